package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// PublishOptions holds flags for the publish command.
type PublishOptions struct {
	*RootOptions
	Check bool
	Image string
	Name  string
	Price string
}

// NewPublishCommand creates the publish command.
func NewPublishCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &PublishOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "publish [story-id]",
		Short: "Publish one story now",
		Long: `Publish one story now and print the result.

With --check every step runs except the upload, and nothing is recorded.
With --image a local file is re-framed to 1080x1920, captioned with --name
and --price, and published without touching the database.

Example:
  story-publisher publish 42
  story-publisher publish 42 --check
  story-publisher publish --image car.jpg --name "Model X" --price 10000`,
		Args: func(cmd *cobra.Command, args []string) error {
			if opts.Image != "" {
				return cobra.NoArgs(cmd, args)
			}
			return cobra.ExactArgs(1)(cmd, args)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Image != "" {
				return publishImage(cmd, opts)
			}

			id, err := parseStoryID(args[0])
			if err != nil {
				return err
			}

			if opts.Check {
				return checkStory(cmd, opts, id)
			}
			return publishStory(cmd, opts, id)
		},
	}

	cmd.Flags().BoolVar(&opts.Check, "check", false, "dry run: validate token, media and rendering without publishing")
	cmd.Flags().StringVar(&opts.Image, "image", "", "re-frame and publish a local image instead of a stored story")
	cmd.Flags().StringVar(&opts.Name, "name", "", "model name caption for --image")
	cmd.Flags().StringVar(&opts.Price, "price", "", "price caption for --image")
	cmd.MarkFlagsMutuallyExclusive("check", "image")

	return cmd
}

// PublishOutput is the printed result of a publication.
type PublishOutput struct {
	StoryID          int64  `json:"story_id,omitempty"`
	RunID            string `json:"run_id,omitempty"`
	Published        bool   `json:"published"`
	AlreadyPublished bool   `json:"already_published,omitempty"`
	Link             string `json:"link,omitempty"`
	Kind             string `json:"kind,omitempty"`
	Error            string `json:"error,omitempty"`
}

func publishStory(cmd *cobra.Command, opts *PublishOptions, id int64) error {
	a, err := newApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	res := a.pipeline.Run(cmd.Context(), id)

	out := PublishOutput{
		StoryID:          id,
		RunID:            res.RunID.String(),
		Published:        res.OK,
		AlreadyPublished: res.AlreadyPublished,
		Link:             res.Link,
	}
	if res.Err != nil {
		out.Kind, out.Error = string(res.Kind()), res.Err.Error()
	}

	if err := writeOutput(cmd.OutOrStdout(), opts.Format, out, formatPublish(out)); err != nil {
		return err
	}

	if !res.OK {
		return fmt.Errorf("story %d was not published", id)
	}

	return nil
}

func checkStory(cmd *cobra.Command, opts *PublishOptions, id int64) error {
	a, err := newApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	report, err := a.pipeline.Check(cmd.Context(), a.vk, id)
	if err != nil {
		return fmt.Errorf("check failed: %w", err)
	}

	text := fmt.Sprintf(
		"group: %s\nmedia: %d bytes\nrendered: %d bytes\nupload server: ok\nstory %d is ready to publish\n",
		report.GroupName, report.MediaBytes, report.ImageBytes, id,
	)

	return writeOutput(cmd.OutOrStdout(), opts.Format, report, text)
}

func publishImage(cmd *cobra.Command, opts *PublishOptions) error {
	source, err := os.ReadFile(opts.Image)
	if err != nil {
		return fmt.Errorf("read image: %w", err)
	}

	a, err := newApp(cmd.Context(), opts.RootOptions)
	if err != nil {
		return err
	}
	defer a.close()

	ref, err := a.pipeline.PublishImage(cmd.Context(), source, opts.Name, opts.Price)
	if err != nil {
		return fmt.Errorf("publish image: %w", err)
	}

	out := PublishOutput{Published: true, Link: ref.Link()}

	return writeOutput(cmd.OutOrStdout(), opts.Format, out, formatPublish(out))
}

func formatPublish(out PublishOutput) string {
	switch {
	case out.AlreadyPublished:
		return fmt.Sprintf("story %d already published: %s\n", out.StoryID, out.Link)
	case out.Published:
		return fmt.Sprintf("published: %s\n", out.Link)
	default:
		return fmt.Sprintf("story %d failed (%s): %s\n", out.StoryID, out.Kind, out.Error)
	}
}

func writeOutput(w io.Writer, format string, v any, text string) error {
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	_, err := io.WriteString(w, text)
	return err
}

var errInvalidStoryID = errors.New("story id must be a positive integer")

func parseStoryID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: %q", errInvalidStoryID, s)
	}

	return id, nil
}

