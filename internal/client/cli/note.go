package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dmitrijs2005/journalsync/internal/cryptox"
	"github.com/dmitrijs2005/journalsync/internal/journal"
)

// AddNote seals a note with the identity-derived payload key and appends
// it to the local journal. Saving the same title again appends a new
// version; the log keeps both.
func (a *App) AddNote(ctx context.Context) error {
	title, err := GetSimpleText(a.reader, "Title", os.Stdout)
	if err != nil {
		return err
	}
	if title == "" {
		fmt.Println("Title must not be empty.")
		return nil
	}
	body, err := GetMultiline(a.reader, "Note text", os.Stdout)
	if err != nil {
		return err
	}

	key, err := a.payloadKey(ctx)
	if err != nil {
		fmt.Println("No identity yet. Use 'create' or 'import' first.")
		return err
	}
	sealed, err := cryptox.Seal([]byte(body), key)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}

	e, err := journal.NewEntry(NoteEvent, title, sealed)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}
	if err := a.journal.Write(ctx, e, nil); err != nil {
		fmt.Println("Error:", err)
		return err
	}
	fmt.Println("Saved.")
	return nil
}

// List prints the latest version of every note. Entries come back in
// creation order, so the last entry per title wins.
func (a *App) List(ctx context.Context) error {
	entries, err := a.journal.Entries(ctx)
	if err != nil {
		fmt.Println("Error:", err)
		return err
	}

	latest := make(map[string]*journal.Entry)
	var order []string
	for _, e := range entries {
		if e.Event != NoteEvent {
			continue
		}
		if _, seen := latest[e.PrimaryKey]; !seen {
			order = append(order, e.PrimaryKey)
		}
		latest[e.PrimaryKey] = e
	}
	if len(latest) == 0 {
		fmt.Println("No notes.")
		return nil
	}

	key, err := a.payloadKey(ctx)
	if err != nil {
		fmt.Println("No identity yet. Use 'create' or 'import' first.")
		return err
	}

	for _, title := range order {
		e := latest[title]
		when := time.UnixMilli(e.Timestamp).Format(time.DateTime)
		body, err := cryptox.Open(e.Payload, key)
		if err != nil {
			fmt.Printf("  %s  [%s]  <cannot decrypt>\n", title, when)
			continue
		}
		fmt.Printf("  %s  [%s]\n    %s\n", title, when, string(body))
	}
	return nil
}
