package commands

import (
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"github.com/docker/go-units"
	"github.com/spf13/cobra"

	"github.com/edgehive/engine-runner/cmd/enginectl/client"
	"github.com/edgehive/engine-runner/pkg/engine"
)

func newChatCmd() *cobra.Command {
	var (
		stream      bool
		runner      string
		model       string
		imagePath   string
		temperature float64
		maxTokens   int
	)
	c := &cobra.Command{
		Use:   "chat PROMPT",
		Short: "Generate text from a prompt (VLM when --image is given)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.InferenceRequest{
				Text:   args[0],
				Runner: runner,
				Params: map[string]interface{}{},
			}
			if model != "" {
				req.Params[engine.ParamModelID] = model
			}
			if cmd.Flags().Changed("temperature") {
				req.Params[engine.ParamTemperature] = temperature
			}
			if maxTokens > 0 {
				req.Params[engine.ParamMaxTokens] = maxTokens
			}
			if imagePath != "" {
				data, err := os.ReadFile(imagePath)
				if err != nil {
					return err
				}
				req.Image = data
			}

			if stream {
				err := engineClient.InferStream(cmd.Context(), "chat", req, func(event string, result engine.Result) error {
					if result.IsError() {
						return result.Error
					}
					if text, ok := result.Text(); ok && result.Partial {
						cmd.Print(text)
					}
					return nil
				})
				cmd.Println()
				return err
			}

			result, err := engineClient.Infer(cmd.Context(), "chat", req)
			if err != nil {
				return err
			}
			if result.IsError() {
				return result.Error
			}
			text, _ := result.Text()
			cmd.Println(text)
			return nil
		},
	}
	c.Flags().BoolVar(&stream, "stream", false, "stream tokens as they are generated")
	c.Flags().StringVar(&runner, "runner", "", "use this runner instead of the default")
	c.Flags().StringVar(&model, "model", "", "model id to use")
	c.Flags().Float64Var(&temperature, "temperature", 0.8, "sampling temperature")
	c.Flags().IntVar(&maxTokens, "max-tokens", 0, "cap on generated tokens")
	return c
}

func newTranscribeCmd() *cobra.Command {
	var (
		stream   bool
		runner   string
		language string
	)
	c := &cobra.Command{
		Use:   "transcribe AUDIO_FILE",
		Short: "Transcribe 16 kHz mono PCM or WAV audio",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			req := client.InferenceRequest{
				Audio:  data,
				Runner: runner,
				Params: map[string]interface{}{},
			}
			if language != "" {
				req.Params[engine.ParamLanguage] = language
			}

			if stream {
				return engineClient.InferStream(cmd.Context(), "asr", req, func(event string, result engine.Result) error {
					if result.IsError() {
						return result.Error
					}
					if text, ok := result.Text(); ok && result.Partial {
						cmd.Println(text)
					}
					return nil
				})
			}

			result, err := engineClient.Infer(cmd.Context(), "asr", req)
			if err != nil {
				return err
			}
			if result.IsError() {
				return result.Error
			}
			text, _ := result.Text()
			cmd.Println(text)
			return nil
		},
	}
	c.Flags().BoolVar(&stream, "stream", false, "print segments as they are recognized")
	c.Flags().StringVar(&runner, "runner", "", "use this runner instead of the default")
	c.Flags().StringVar(&language, "language", "", "language hint, e.g. en")
	return c
}

func newSayCmd() *cobra.Command {
	var (
		runner  string
		outPath string
		speed   float64
	)
	c := &cobra.Command{
		Use:   "say TEXT",
		Short: "Synthesize speech into a WAV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := client.InferenceRequest{
				Text:   args[0],
				Runner: runner,
				Params: map[string]interface{}{},
			}
			if cmd.Flags().Changed("speed") {
				req.Params["speed"] = speed
			}

			result, err := engineClient.Infer(cmd.Context(), "tts", req)
			if err != nil {
				return err
			}
			if result.IsError() {
				return result.Error
			}

			pcm, err := audioOf(result)
			if err != nil {
				return err
			}
			rate := 22050
			if sr, ok := result.Metadata[engine.MetaSampleRate].(float64); ok && sr > 0 {
				rate = int(sr)
			}
			if err := os.WriteFile(outPath, wavFile(pcm, rate), 0o644); err != nil {
				return err
			}
			cmd.Printf("Wrote %s (%s, %d Hz)\n", outPath, units.HumanSize(float64(len(pcm))), rate)
			return nil
		},
	}
	c.Flags().StringVar(&runner, "runner", "", "use this runner instead of the default")
	c.Flags().StringVarP(&outPath, "out", "o", "speech.wav", "output WAV path")
	c.Flags().Float64Var(&speed, "speed", 1.0, "speaking pace multiplier")
	return c
}

func newGuardCmd() *cobra.Command {
	var runner string
	c := &cobra.Command{
		Use:   "guard TEXT",
		Short: "Screen text for safety",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := engineClient.Infer(cmd.Context(), "guard", client.InferenceRequest{
				Text:   args[0],
				Runner: runner,
			})
			if err != nil {
				return err
			}
			if result.IsError() {
				return result.Error
			}
			verdict, _ := result.Text()
			cmd.Println(verdict)
			if categories, ok := result.Metadata["categories"].([]interface{}); ok && len(categories) > 0 {
				parts := make([]string, 0, len(categories))
				for _, c := range categories {
					parts = append(parts, fmt.Sprint(c))
				}
				cmd.Printf("categories: %s\n", strings.Join(parts, ", "))
			}
			return nil
		},
	}
	c.Flags().StringVar(&runner, "runner", "", "use this runner instead of the default")
	return c
}

// audioOf extracts the PCM payload from a TTS result. JSON decoding turns
// the []byte output into a base64 string.
func audioOf(result engine.Result) ([]byte, error) {
	switch v := result.Outputs[engine.OutputAudio].(type) {
	case []byte:
		return v, nil
	case string:
		return base64.StdEncoding.DecodeString(v)
	default:
		return nil, fmt.Errorf("result carries no audio")
	}
}

// wavFile wraps 16-bit mono PCM in a minimal RIFF header.
func wavFile(pcm []byte, sampleRate int) []byte {
	out := make([]byte, 44+len(pcm))
	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")
	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(out[22:24], 1) // mono
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*2))
	binary.LittleEndian.PutUint16(out[32:34], 2)
	binary.LittleEndian.PutUint16(out[34:36], 16)
	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}

func formatSize(n int64) string {
	if n <= 0 {
		return "-"
	}
	return units.HumanSize(float64(n))
}
