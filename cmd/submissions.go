package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/teardown/internal/model"
	"github.com/sells-group/teardown/internal/review"
	"github.com/sells-group/teardown/internal/store"
)

var submissionsCmd = &cobra.Command{
	Use:   "submissions",
	Short: "Review user submissions to the catalog",
}

// openWorkflow opens the store and builds the review workflow on it.
func openWorkflow(cmd *cobra.Command) (*review.Workflow, func() error, error) {
	st, err := openStore(cmd.Context())
	if err != nil {
		return nil, nil, err
	}
	return review.New(st, review.PolicyFromConfig(cfg.Review)), st.Close, nil
}

// -- submissions list --

var submissionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List submissions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		wf, closeFn, err := openWorkflow(cmd)
		if err != nil {
			return err
		}
		defer closeFn() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		user, _ := cmd.Flags().GetString("user")
		limit, _ := cmd.Flags().GetInt("limit")

		subs, err := wf.List(cmd.Context(), store.SubmissionFilter{
			Status: model.SubmissionStatus(status),
			UserID: user,
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "submissions list")
		}
		if len(subs) == 0 {
			fmt.Fprintln(os.Stderr, "No submissions found.")
			return nil
		}

		formatSubmissionList(cmd.OutOrStdout(), subs)
		return nil
	},
}

// -- submissions show --

var submissionsShowCmd = &cobra.Command{
	Use:   "show <submission-id>",
	Short: "Show full details of a submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		wf, closeFn, err := openWorkflow(cmd)
		if err != nil {
			return err
		}
		defer closeFn() //nolint:errcheck

		sub, err := wf.Get(cmd.Context(), args[0])
		if err != nil {
			return eris.Wrap(err, "submissions show")
		}
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

// -- submissions approve --

var submissionsApproveCmd = &cobra.Command{
	Use:   "approve <submission-id>",
	Short: "Approve a pending submission and promote it into the catalog",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, notes, err := reviewerFlags(cmd)
		if err != nil {
			return err
		}
		wf, closeFn, err := openWorkflow(cmd)
		if err != nil {
			return err
		}
		defer closeFn() //nolint:errcheck

		sub, created, err := wf.Approve(cmd.Context(), args[0], reviewer, notes)
		if err != nil {
			return eris.Wrap(err, "submissions approve")
		}
		zap.L().Info("submission approved",
			zap.String("submission_id", sub.ID),
			zap.String("device_id", sub.DeviceID),
			zap.Bool("device_created", created),
		)
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

// -- submissions reject --

var submissionsRejectCmd = &cobra.Command{
	Use:   "reject <submission-id>",
	Short: "Reject a pending submission",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, notes, err := reviewerFlags(cmd)
		if err != nil {
			return err
		}
		wf, closeFn, err := openWorkflow(cmd)
		if err != nil {
			return err
		}
		defer closeFn() //nolint:errcheck

		sub, err := wf.Reject(cmd.Context(), args[0], reviewer, notes)
		if err != nil {
			return eris.Wrap(err, "submissions reject")
		}
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

// -- submissions request-info --

var submissionsRequestInfoCmd = &cobra.Command{
	Use:   "request-info <submission-id>",
	Short: "Ask the submitter for more information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reviewer, notes, err := reviewerFlags(cmd)
		if err != nil {
			return err
		}
		wf, closeFn, err := openWorkflow(cmd)
		if err != nil {
			return err
		}
		defer closeFn() //nolint:errcheck

		sub, err := wf.RequestInfo(cmd.Context(), args[0], reviewer, notes)
		if err != nil {
			return eris.Wrap(err, "submissions request-info")
		}
		return printJSON(cmd.OutOrStdout(), sub)
	},
}

func reviewerFlags(cmd *cobra.Command) (string, string, error) {
	reviewer, _ := cmd.Flags().GetString("reviewer")
	notes, _ := cmd.Flags().GetString("notes")
	if reviewer == "" {
		return "", "", eris.New("--reviewer is required")
	}
	return reviewer, notes, nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func init() {
	submissionsListCmd.Flags().String("status", "pending", "filter by status (pending, approved, rejected, needs_more_info)")
	submissionsListCmd.Flags().String("user", "", "filter by submitting user")
	submissionsListCmd.Flags().Int("limit", 50, "max number of submissions to display")

	for _, c := range []*cobra.Command{submissionsApproveCmd, submissionsRejectCmd, submissionsRequestInfoCmd} {
		c.Flags().String("reviewer", "", "reviewer id (required)")
		c.Flags().String("notes", "", "reviewer notes or rejection reason")
	}

	submissionsCmd.AddCommand(submissionsListCmd)
	submissionsCmd.AddCommand(submissionsShowCmd)
	submissionsCmd.AddCommand(submissionsApproveCmd)
	submissionsCmd.AddCommand(submissionsRejectCmd)
	submissionsCmd.AddCommand(submissionsRequestInfoCmd)
	rootCmd.AddCommand(submissionsCmd)
}

// formatSubmissionList writes a tabular list of submissions to w.
func formatSubmissionList(out io.Writer, subs []model.Submission) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tUSER\tDEVICE\tITEMS\tCREATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t----\t------\t-----\t-------")

	for _, s := range subs {
		device := s.Raw.ParentObject
		if device == "" {
			device = s.BrandHint + " " + s.ModelHint
		}
		if len(device) > 30 {
			device = device[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\n",
			truncateID(s.ID),
			s.Type,
			s.Status,
			s.UserID,
			device,
			len(s.Raw.Items),
			s.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
