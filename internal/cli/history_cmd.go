// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// history_cmd.go - Store administration: schema, users and thread listings.

package cli

import (
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jeranaias/chatvault/internal/export"
	"github.com/jeranaias/chatvault/internal/model"
	"github.com/jeranaias/chatvault/internal/store"
	"github.com/jeranaias/chatvault/internal/util"
	"github.com/jeranaias/chatvault/internal/vaulterr"
)

// =============================================================================
// SCHEMA
// =============================================================================

func newSchemaCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Manage the chat history database",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "init",
		Short: "Create the users, threads, steps, elements and feedbacks tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			if err := st.InitSchema(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), RenderStatus("ok")+" schema ready in "+st.Path())
			return nil
		},
	})
	return cmd
}

// =============================================================================
// USERS
// =============================================================================

func newUserCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage users",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add IDENTIFIER",
		Short: "Create a user (no-op if it exists)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := st.EnsureUser(ctx, args[0], nil)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, RenderField("Identifier", user.Identifier))
			fmt.Fprintln(out, RenderField("ID", user.ID))
			return nil
		},
	})
	return cmd
}

// =============================================================================
// HISTORY
// =============================================================================

func newHistoryCmd(a *app) *cobra.Command {
	var (
		identifier string
		threadID   string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List a user's threads, or show one thread",
		Example: `  chatvault history --user alice
  chatvault history --user alice --thread 3f2a...`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			user, err := a.resolveUser(ctx, st, identifier)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if threadID == "" {
				threads, err := st.ListThreads(ctx, user.ID)
				if err != nil {
					return err
				}
				writeThreadTable(out, threads)
				return nil
			}

			thread, err := st.Thread(ctx, threadID)
			if err != nil {
				return err
			}
			if thread.UserID == nil || *thread.UserID != user.ID {
				return vaulterr.Errorf(vaulterr.KindNotFound, "cli.history", "no thread %q for %s", threadID, identifier)
			}
			md := export.RenderMarkdown(&export.Archive{UserID: user.ID, Threads: []model.Thread{*thread}},
				&export.MarkdownOptions{IncludeTimestamps: true, IncludeNested: true})
			if isTerminalWriter(out) {
				if rendered, err := renderMarkdown(string(md)); err == nil {
					fmt.Fprint(out, rendered)
					return nil
				}
			}
			_, err = out.Write(md)
			return err
		},
	}

	cmd.Flags().StringVarP(&identifier, "user", "u", "", "user identifier")
	cmd.Flags().StringVarP(&threadID, "thread", "t", "", "show one thread with its steps")
	return cmd
}

// Column widths of the thread table.
const (
	colID      = 36
	colName    = 40
	colSteps   = 6
	colCreated = 27
)

// writeThreadTable prints threads as aligned columns. Names are cut to the
// column by display width, so wide characters stay aligned.
func writeThreadTable(w io.Writer, threads []store.ThreadSummary) {
	if len(threads) == 0 {
		fmt.Fprintln(w, RenderConditional(DimStyle, "No conversations yet."))
		return
	}

	header := util.PadWidth("ID", colID) + " " +
		util.PadWidth("NAME", colName) + " " +
		util.PadWidth("STEPS", colSteps) + " " +
		"CREATED"
	fmt.Fprintln(w, RenderConditional(LabelStyle, header))
	fmt.Fprintln(w, RenderSeparator(colID+colName+colSteps+colCreated+3))

	for _, t := range threads {
		name := t.Name
		if name == "" {
			name = "(untitled)"
		}
		fmt.Fprintln(w,
			util.PadWidth(t.ID, colID)+" "+
				util.PadWidth(util.TruncateWidth(name, colName), colName)+" "+
				util.PadWidth(strconv.Itoa(t.StepCount), colSteps)+" "+
				RenderConditional(DimStyle, t.CreatedAt))
	}
	fmt.Fprintln(w, RenderConditional(DimStyle, fmt.Sprintf("%d thread(s)", len(threads))))
}
