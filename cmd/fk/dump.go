package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/flowkeeper-org/fk-engine/internal/model"
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the entity tree the log replays into",
	RunE: func(cmd *cobra.Command, args []string) error {
		fs, err := newFileSource(false)
		if err != nil {
			return err
		}
		defer fs.Close()
		if err := fs.Start(false); err != nil {
			return err
		}

		e := fs.Engine()
		for _, u := range e.Users() {
			fmt.Printf("%s <%s>\n", u.Name(), u.Identity())
			for _, b := range u.Backlogs() {
				fmt.Printf("  %s [%s]\n", b.Name(), b.UID())
				for _, w := range b.Workitems() {
					fmt.Printf("    %-9s %s [%s] %s\n",
						w.State(), w.Name(), w.UID(), pomodoroBar(w))
				}
			}
			if ts := u.Timer(time.Now().UTC()); ts.Ticking() {
				fmt.Printf("  timer: %s on %q, %s left\n",
					ts.Pomodoro.State(), ts.Workitem.Name(), ts.Remaining.Round(time.Second))
			}
			if tags := u.Tags(); len(tags) > 0 {
				names := make([]string, 0, len(tags))
				for _, tag := range tags {
					names = append(names, "#"+tag.Name())
				}
				fmt.Printf("  tags: %s\n", strings.Join(names, " "))
			}
			dumpCategories(u.Categories(), "  ")
		}
		fmt.Printf("Last sequence: %d\n", e.LastSeq())
		return nil
	},
}

// dumpCategories prints the category tree, one indented line per node
// with the count of workitems filed under it.
func dumpCategories(c *model.Category, indent string) {
	for _, ch := range c.Children() {
		fmt.Printf("%s/%s [%s] (%d filed)\n", indent, ch.Name(), ch.UID(), len(ch.WorkitemUIDs()))
		dumpCategories(ch, indent+"  ")
	}
}

// pomodoroBar renders one character per pomodoro, in order.
func pomodoroBar(w *model.Workitem) string {
	var b strings.Builder
	for _, p := range w.Pomodoros() {
		switch p.State() {
		case model.PomodoroFinished:
			b.WriteByte('x')
		case model.PomodoroCanceled:
			b.WriteByte('-')
		case model.PomodoroWork, model.PomodoroRest:
			b.WriteByte('>')
		default:
			b.WriteByte('o')
		}
	}
	return b.String()
}

func init() {
	rootCmd.AddCommand(dumpCmd)
}
