package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/samber/lo"
	"github.com/spf13/cobra"

	"github.com/aschepis/backscratcher/lifebook/extraction"
	"github.com/aschepis/backscratcher/lifebook/identity"
	"github.com/aschepis/backscratcher/lifebook/runtime"
	"github.com/aschepis/backscratcher/lifebook/story"
	"github.com/aschepis/backscratcher/lifebook/storystore"
)

var onboardFlags storystore.Onboarding

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Start a story with your name, date of birth and birth city",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			if err := a.store.CompleteOnboarding(onboardFlags); err != nil {
				return err
			}
			welcome := a.store.Snapshot().ChatHistory[0]
			fmt.Fprintln(cmd.OutOrStdout(), welcome.Text)
			printDrafts(cmd.OutOrStdout(), welcome)
			return nil
		})
	},
}

var tellImages []string

var tellCmd = &cobra.Command{
	Use:   "tell [story...]",
	Short: "Tell the biographer something about your life",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		images := make([]extraction.Image, 0, len(tellImages))
		for _, path := range tellImages {
			data, mimeType, err := readArtifact(path)
			if err != nil {
				return err
			}
			images = append(images, extraction.Image{MimeType: mimeType, Data: data})
		}
		return withStory(cmd, func(ctx context.Context, a *app) error {
			reply := a.store.Tell(ctx, extractorOrOffline(ctx, a), strings.Join(args, " "), images...)
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, reply.Text)
			printDrafts(out, reply)
			return nil
		})
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <file>",
	Short: "Attach a photo, document or recording",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		data, mimeType, err := readArtifact(args[0])
		if err != nil {
			return err
		}
		abs, err := filepath.Abs(args[0])
		if err != nil {
			return err
		}
		return withStory(cmd, func(ctx context.Context, a *app) error {
			pending := a.store.Upload(ctx, extractorOrOffline(ctx, a), filepath.Base(abs), data,
				story.Attachment{URL: "file://" + abs, MimeType: mimeType})
			fmt.Fprintf(cmd.OutOrStdout(), "pending %s  [%s] %s\n", pending.ID, pending.SuggestedSortDate, pending.SuggestedNarrative)
			if pending.Analysis != "" {
				fmt.Fprintln(cmd.OutOrStdout(), pending.Analysis)
			}
			return nil
		})
	},
}

var draftsCmd = &cobra.Command{
	Use:   "drafts",
	Short: "List proposed memories, people and artifacts awaiting confirmation",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			out := cmd.OutOrStdout()
			snap := a.store.Snapshot()
			for _, msg := range snap.ChatHistory {
				printDrafts(out, msg)
			}
			for _, p := range snap.PendingArtifacts {
				fmt.Fprintf(out, "artifact %s  [%s] %s (%s)\n", p.ID, p.SuggestedSortDate, p.SuggestedNarrative, p.Attachment.Kind)
			}
			return nil
		})
	},
}

var confirmCmd = &cobra.Command{
	Use:   "confirm",
	Short: "Confirm a proposed memory, person or artifact",
}

var confirmDraftCmd = &cobra.Command{
	Use:   "draft <message-id> <index>",
	Short: "Confirm a proposed memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			draft, err := findDraft(a.store.Snapshot(), args[0], args[1])
			if err != nil {
				return err
			}
			id := a.store.ConfirmDraft(args[0], draft)
			fmt.Fprintf(cmd.OutOrStdout(), "memory %s\n", id)
			return nil
		})
	},
}

var confirmEntityCmd = &cobra.Command{
	Use:   "entity <message-id> <name>",
	Short: "Confirm a proposed person, place or thing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			proposal, err := findProposedEntity(a.store.Snapshot(), args[0], args[1])
			if err != nil {
				return err
			}
			id := a.store.ConfirmProposedEntity(args[0], proposal)
			fmt.Fprintf(cmd.OutOrStdout(), "entity %s\n", id)
			return nil
		})
	},
}

var confirmArtifactCmd = &cobra.Command{
	Use:   "artifact <id>",
	Short: "Confirm a pending artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			id, err := a.store.ConfirmPendingArtifact(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "memory %s\n", id)
			return nil
		})
	},
}

var discardCmd = &cobra.Command{
	Use:   "discard",
	Short: "Discard a proposed memory, person or artifact",
}

var discardDraftCmd = &cobra.Command{
	Use:   "draft <message-id> <index>",
	Short: "Discard a proposed memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			draft, err := findDraft(a.store.Snapshot(), args[0], args[1])
			if err != nil {
				return err
			}
			a.store.DiscardDraft(args[0], draft)
			return nil
		})
	},
}

var discardEntityCmd = &cobra.Command{
	Use:   "entity <message-id> <name>",
	Short: "Discard a proposed person, place or thing",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			if !a.store.DiscardProposedEntity(args[0], args[1]) {
				return fmt.Errorf("proposed entity %q on message %s: %w", args[1], args[0], storystore.ErrNotFound)
			}
			return nil
		})
	},
}

var discardArtifactCmd = &cobra.Command{
	Use:   "artifact <id>",
	Short: "Discard a pending artifact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			if !a.store.DiscardPendingArtifact(args[0]) {
				return fmt.Errorf("pending artifact %s: %w", args[0], storystore.ErrNotFound)
			}
			return nil
		})
	},
}

var editFlags struct {
	narrative string
	date      string
	location  string
}

var editCmd = &cobra.Command{
	Use:   "edit <memory-id>",
	Short: "Change the text, date or place of a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var edit storystore.MemoryEdit
		if cmd.Flags().Changed("narrative") {
			edit.Narrative = &editFlags.narrative
		}
		if cmd.Flags().Changed("date") {
			edit.SortDate = &editFlags.date
		}
		if cmd.Flags().Changed("location") {
			edit.Location = &editFlags.location
		}
		return withStory(cmd, func(_ context.Context, a *app) error {
			return a.store.EditMemory(args[0], edit)
		})
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete <memory-id>",
	Short: "Remove a memory from the story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			return a.store.DeleteMemory(args[0])
		})
	},
}

var timelineCmd = &cobra.Command{
	Use:   "timeline",
	Short: "Print confirmed memories in date order with their eras",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			printTimeline(cmd.OutOrStdout(), a.store.Snapshot())
			return nil
		})
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List the people, places and things in the story",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStory(cmd, func(_ context.Context, a *app) error {
			out := cmd.OutOrStdout()
			for _, e := range a.store.Snapshot().Entities {
				if e.Retired {
					continue
				}
				fmt.Fprintf(out, "%s  %s (%s)", e.ID, e.Name, e.Type)
				if e.Relationship != "" {
					fmt.Fprintf(out, " %s", e.Relationship)
				}
				if len(e.HistoryTags) > 0 {
					fmt.Fprintf(out, ": %s", strings.Join(e.HistoryTags, "; "))
				}
				fmt.Fprintln(out)
			}
			return nil
		})
	},
}

var vaultIDCmd = &cobra.Command{
	Use:   "vault-id",
	Short: "Print the local vault id derived from the secret",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if flags.secret == "" {
			return errors.New("a secret is required (--secret or LIFEBOOK_SECRET)")
		}
		fmt.Fprintln(cmd.OutOrStdout(), identity.LocalVaultID(flags.secret, []byte(cfg.Vault.Salt)))
		return nil
	},
}

var resyncWatch bool

var resyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Push the whole story to the remote mirror",
	Long: `Push every collection of the story to the remote mirror.

With --watch the push repeats on the resync schedule from the config file
until interrupted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withStory(cmd, func(ctx context.Context, a *app) error {
			if !resyncWatch {
				r := runtime.NewResyncer(a.store, a.layer, nil, logger)
				return r.RunOnce(ctx)
			}
			schedule, err := runtime.ParseSchedule(cfg.Resync.Schedule)
			if err != nil {
				return err
			}
			runtime.NewResyncer(a.store, a.layer, schedule, logger).Start(ctx)
			return nil
		})
	},
}

func init() {
	onboardCmd.Flags().StringVar(&onboardFlags.DisplayName, "name", "", "Your name")
	onboardCmd.Flags().StringVar(&onboardFlags.DateOfBirth, "dob", "", "Date of birth (YYYY-MM-DD)")
	onboardCmd.Flags().StringVar(&onboardFlags.BirthCity, "city", "", "City of birth")
	onboardCmd.Flags().StringVar((*string)(&onboardFlags.Tone), "tone", string(story.ToneConcise), "Biographer tone: concise or elaborate")
	_ = onboardCmd.MarkFlagRequired("dob") //nolint:errcheck // flag is defined above

	tellCmd.Flags().StringSliceVar(&tellImages, "image", nil, "Image to send along (repeatable)")

	editCmd.Flags().StringVar(&editFlags.narrative, "narrative", "", "New text")
	editCmd.Flags().StringVar(&editFlags.date, "date", "", "New date (YYYY, YYYY-MM or YYYY-MM-DD)")
	editCmd.Flags().StringVar(&editFlags.location, "location", "", "New place")

	resyncCmd.Flags().BoolVar(&resyncWatch, "watch", false, "Keep resyncing on the configured schedule")

	confirmCmd.AddCommand(confirmDraftCmd, confirmEntityCmd, confirmArtifactCmd)
	discardCmd.AddCommand(discardDraftCmd, discardEntityCmd, discardArtifactCmd)
}

// offlineExtractor stands in when no language model is configured; the store
// then keeps input verbatim.
type offlineExtractor struct{ err error }

func (o offlineExtractor) Extract(context.Context, extraction.Request) (extraction.Result, error) {
	return extraction.Result{}, o.err
}

func (o offlineExtractor) AnalyzeMedia(context.Context, extraction.MediaRequest) (extraction.MediaResult, error) {
	return extraction.MediaResult{}, o.err
}

type collaborator interface {
	extraction.Extractor
	extraction.MediaAnalyzer
}

func extractorOrOffline(ctx context.Context, a *app) collaborator {
	ex, err := newExtractor(ctx, a.cfg, a.logger)
	if err != nil {
		a.logger.Warn().Err(err).Msg("No language model; keeping input as-is")
		return offlineExtractor{err: err}
	}
	return ex
}

func readArtifact(path string) ([]byte, string, error) {
	data, err := os.ReadFile(path) //#nosec 304 -- user-selected upload
	if err != nil {
		return nil, "", fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, http.DetectContentType(data), nil
}

func findDraft(snap story.Snapshot, messageID, index string) (story.DraftMemory, error) {
	i := snap.Message(messageID)
	if i < 0 {
		return story.DraftMemory{}, fmt.Errorf("message %s: %w", messageID, storystore.ErrNotFound)
	}
	n, err := strconv.Atoi(index)
	proposals := snap.ChatHistory[i].Proposals
	if err != nil || n < 0 || n >= len(proposals) {
		return story.DraftMemory{}, fmt.Errorf("draft %s on message %s: %w", index, messageID, storystore.ErrNotFound)
	}
	return proposals[n], nil
}

func findProposedEntity(snap story.Snapshot, messageID, name string) (story.ProposedEntity, error) {
	i := snap.Message(messageID)
	if i >= 0 {
		for _, p := range snap.ChatHistory[i].ProposedEntities {
			if strings.EqualFold(p.Name, name) {
				return p, nil
			}
		}
	}
	return story.ProposedEntity{}, fmt.Errorf("proposed entity %q on message %s: %w", name, messageID, storystore.ErrNotFound)
}

func printDrafts(out io.Writer, msg story.ChatMessage) {
	for i, d := range msg.Proposals {
		fmt.Fprintf(out, "draft %s %d  [%s] %s\n", msg.ID, i, d.SortDate, d.Narrative)
	}
	for _, p := range msg.ProposedEntities {
		fmt.Fprintf(out, "entity %s %q  (%s) %s\n", msg.ID, p.Name, p.Type, p.Details)
	}
}

func printTimeline(out io.Writer, snap story.Snapshot) {
	labels := lo.SliceToMap(snap.Eras, func(e story.Era) (string, string) { return e.ID, e.Label })
	memories := snap.ActiveMemories()
	slices.SortStableFunc(memories, func(a, b story.Memory) int { return strings.Compare(a.SortDate, b.SortDate) })
	for _, m := range memories {
		eras := lo.FilterMap(m.EraIDs, func(id string, _ int) (string, bool) {
			label, ok := labels[id]
			return label, ok
		})
		fmt.Fprintf(out, "%-10s %s", m.SortDate, m.Narrative)
		if len(eras) > 0 {
			fmt.Fprintf(out, "  <%s>", strings.Join(eras, ", "))
		}
		fmt.Fprintf(out, "  (%s)\n", m.ID)
	}
}
