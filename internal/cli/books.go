package cli

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/example/shelf-sync/internal/app"
	"github.com/example/shelf-sync/internal/types"
)

// NewAddCommand creates the add command.
func NewAddCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "add <isbn>",
		Short: "Look a book up by ISBN and add it to a list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			membership, err := parseStatus(status)
			if err != nil {
				return err
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				isbn := strings.TrimSpace(args[0])
				rec, err := a.Provider.LookupByISBN(ctx, isbn)
				if err != nil {
					return fmt.Errorf("look up %s: %w", isbn, err)
				}
				if rec == nil {
					return fmt.Errorf("no book found for ISBN %s", isbn)
				}
				if rec.ID == "" {
					rec.ID = "isbn:" + isbn
				}

				result, err := a.Ops.AddBook(ctx, *rec, membership)
				if err != nil {
					return err
				}
				book, _ := a.Store.Get(rec.ID)
				if err := printBook(cmd.OutOrStdout(), rootOpts, book); err != nil {
					return err
				}
				if result.LocalOnly {
					fmt.Fprintln(cmd.ErrOrStderr(), "note: book has no ISBN and stays on this device")
				}
				flush(ctx, cmd, rootOpts, a)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", string(types.MembershipToRead), "list to add to (to_read|reading|read)")
	return cmd
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	var maxResults int
	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the metadata provider",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				books, err := a.Provider.Search(ctx, strings.Join(args, " "), maxResults)
				if err != nil {
					return err
				}
				return printBooks(cmd.OutOrStdout(), rootOpts, books)
			})
		},
	}
	cmd.Flags().IntVarP(&maxResults, "max", "n", 10, "maximum number of results")
	return cmd
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List books, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := types.MembershipNone
			if status != "" {
				m, err := parseStatus(status)
				if err != nil {
					return err
				}
				filter = m
			}
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				return printBooks(cmd.OutOrStdout(), rootOpts, a.Store.List(filter))
			})
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "only show one list (to_read|reading|read)")
	return cmd
}

// NewStatusCommand creates the status command.
func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status <id> <to_read|reading|read>",
		Short: "Move a book to another list",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			membership, err := parseStatus(args[1])
			if err != nil {
				return err
			}
			return mutate(cmd, rootOpts, args[0], func(ctx context.Context, a *app.App) (bool, error) {
				return a.Ops.ChangeStatus(ctx, args[0], membership)
			})
		},
	}
}

// NewRateCommand creates the rate command.
func NewRateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <id> <1-10|0>",
		Short: "Rate a book; 0 clears the rating",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[1])
			if err != nil || n < 0 || n > 10 {
				return fmt.Errorf("rating must be a number from 0 to 10")
			}
			return mutate(cmd, rootOpts, args[0], func(ctx context.Context, a *app.App) (bool, error) {
				return a.Ops.SetRating(ctx, args[0], types.Rating(n))
			})
		},
	}
}

// NewTagCommand creates the tag command.
func NewTagCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "tag <id> <tag>",
		Short: "Add a free-form tag to a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, rootOpts, args[0], func(ctx context.Context, a *app.App) (bool, error) {
				return a.Ops.AddTag(ctx, args[0], args[1])
			})
		},
	}
}

// NewUntagCommand creates the untag command.
func NewUntagCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "untag <id> <tag>",
		Short: "Remove a free-form tag from a book",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return mutate(cmd, rootOpts, args[0], func(ctx context.Context, a *app.App) (bool, error) {
				return a.Ops.RemoveTag(ctx, args[0], args[1])
			})
		},
	}
}

// NewRemoveCommand creates the remove command.
func NewRemoveCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:     "remove <id>",
		Aliases: []string{"rm"},
		Short:   "Remove a book from every list",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, rootOpts, func(ctx context.Context, a *app.App) error {
				found, err := a.Ops.Remove(ctx, args[0])
				if err != nil {
					return err
				}
				if !found {
					return fmt.Errorf("no book with id %q", args[0])
				}
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", args[0])
				flush(ctx, cmd, rootOpts, a)
				return nil
			})
		},
	}
}

// mutate runs a single-record mutation, prints the result and pushes.
func mutate(cmd *cobra.Command, opts *RootOptions, id string, fn func(context.Context, *app.App) (bool, error)) error {
	return withApp(cmd, opts, func(ctx context.Context, a *app.App) error {
		found, err := fn(ctx, a)
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no book with id %q", id)
		}
		book, _ := a.Store.Get(id)
		if err := printBook(cmd.OutOrStdout(), opts, book); err != nil {
			return err
		}
		flush(ctx, cmd, opts, a)
		return nil
	})
}

func parseStatus(raw string) (types.Membership, error) {
	m, ok := types.ParseMembership(strings.ToLower(strings.TrimSpace(raw)))
	if !ok {
		return types.MembershipNone, fmt.Errorf("invalid status %q: must be to_read, reading or read", raw)
	}
	return m, nil
}

func printBooks(w io.Writer, opts *RootOptions, books []types.BookRecord) error {
	if opts.Format == "json" {
		return writeJSON(w, books)
	}
	if len(books) == 0 {
		fmt.Fprintln(w, "no books")
		return nil
	}
	for _, b := range books {
		fmt.Fprintln(w, formatBook(b))
	}
	return nil
}

func printBook(w io.Writer, opts *RootOptions, book types.BookRecord) error {
	if opts.Format == "json" {
		return writeJSON(w, book)
	}
	fmt.Fprintln(w, formatBook(book))
	return nil
}

func formatBook(b types.BookRecord) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s\t%s by %s (%s)", b.ID, b.Title, b.Author, b.PublicationYear)
	if b.Membership != types.MembershipNone {
		fmt.Fprintf(&sb, " [%s]", b.Membership)
	}
	if r := b.VisibleRating(); r > 0 {
		fmt.Fprintf(&sb, " %d/10", r)
	}
	if len(b.Tags) > 0 {
		fmt.Fprintf(&sb, " #%s", strings.Join(b.Tags, " #"))
	}
	if b.ISBN == "" {
		sb.WriteString(" (local only)")
	}
	return sb.String()
}
