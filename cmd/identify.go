package main

import (
	"encoding/base64"
	"encoding/json"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/teardown/internal/model"
)

var identifyCmd = &cobra.Command{
	Use:   "identify <image> [image...]",
	Short: "Identify a device from one or more photos",
	Long:  "Runs a full resolution through the cache, catalog and vision tiers and prints the response as JSON.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		hint, _ := cmd.Flags().GetString("hint")
		provider, _ := cmd.Flags().GetString("provider")
		user, _ := cmd.Flags().GetString("user")

		if provider != "" && !model.ProviderName(provider).Valid() {
			return eris.Errorf("unknown provider %q", provider)
		}

		images, err := readImages(args)
		if err != nil {
			return err
		}

		env, err := initApp(ctx, "identify")
		if err != nil {
			return err
		}
		defer env.Close()

		resp := env.Resolver.Resolve(ctx, model.IdentificationRequest{
			Images:   images,
			Hint:     hint,
			Provider: model.ProviderName(provider),
			UserID:   user,
		})

		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(resp); err != nil {
			return eris.Wrap(err, "identify: encode response")
		}
		if resp.ErrorKind != model.ErrorNone && resp.ErrorKind != model.ErrorParseFailure {
			return eris.Errorf("identify: %s", resp.ErrorKind.UserMessage())
		}
		return nil
	},
}

// readImages loads image files as base64 payloads. Format checks happen in
// the engine.
func readImages(paths []string) ([]model.Image, error) {
	images := make([]model.Image, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, eris.Wrapf(err, "read image %s", p)
		}
		images = append(images, model.Image{Base64: base64.StdEncoding.EncodeToString(data)})
	}
	return images, nil
}

func init() {
	identifyCmd.Flags().String("hint", "", "free-text hint such as a brand or model number")
	identifyCmd.Flags().String("provider", "", "preferred vision provider (openai, claude, gemini)")
	identifyCmd.Flags().String("user", "", "user id recorded in telemetry")
	rootCmd.AddCommand(identifyCmd)
}
