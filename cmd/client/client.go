package main

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	orderedmap "github.com/wk8/go-ordered-map/v2"
	"golang.org/x/sync/errgroup"

	"github.com/anime-shed/image-classifier-go/internal/ranker"
)

const defaultURL = "http://localhost:8080/predict"

type options struct {
	url         string
	repeat      int
	concurrency int
	dataURI     bool
	timeout     time.Duration
}

// reply is one round trip to the classifier.
type reply struct {
	status  int
	latency time.Duration
	body    []byte
}

func NewCLI() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:           "classify-client [flags] IMAGE",
		Short:         "Send an image to the classifier and print the top predictions",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd, opts, args[0])
		},
	}

	cmd.Flags().StringVar(&opts.url, "url", defaultURL, "classifier endpoint")
	cmd.Flags().IntVarP(&opts.repeat, "repeat", "n", 1, "number of requests to send")
	cmd.Flags().IntVarP(&opts.concurrency, "concurrency", "c", 1, "requests in flight at once")
	cmd.Flags().BoolVar(&opts.dataURI, "data-uri", false, "send the image as a data URI")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", time.Minute, "per-request timeout")

	return cmd
}

func run(cmd *cobra.Command, opts options, path string) error {
	if opts.repeat < 1 || opts.concurrency < 1 {
		return errors.New("--repeat and --concurrency must be at least 1")
	}

	payload, err := encodeImage(path, opts.dataURI)
	if err != nil {
		return err
	}

	client := &http.Client{Timeout: opts.timeout}
	replies := make([]reply, opts.repeat)

	g, ctx := errgroup.WithContext(cmd.Context())
	g.SetLimit(opts.concurrency)
	for i := range replies {
		g.Go(func() error {
			r, err := send(ctx, client, opts.url, payload)
			if err != nil {
				return fmt.Errorf("request %d: %w", i+1, err)
			}
			replies[i] = r
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for i, r := range replies {
		fmt.Fprintf(out, "#%d status=%d latency=%s\n", i+1, r.status, r.latency.Round(time.Millisecond))
	}

	first := replies[0]
	fmt.Fprintf(out, "body: %s\n", bytes.TrimSpace(first.body))
	if first.status == http.StatusOK {
		if err := renderPrediction(out, first.body); err != nil {
			return err
		}
	}

	if opts.repeat > 1 {
		if identical(replies) {
			fmt.Fprintf(out, "idempotent: all %d responses identical\n", len(replies))
		} else {
			fmt.Fprintf(out, "idempotent: NO, responses differ\n")
		}
	}
	return nil
}

// encodeImage reads path and returns it as a JSON string literal.
func encodeImage(path string, dataURI bool) ([]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	encoded := base64.StdEncoding.EncodeToString(raw)
	if dataURI {
		mimeType := mime.TypeByExtension(filepath.Ext(path))
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		encoded = "data:" + mimeType + ";base64," + encoded
	}
	return json.Marshal(encoded)
}

func send(ctx context.Context, client *http.Client, url string, payload []byte) (reply, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return reply{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return reply{}, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return reply{}, err
	}
	return reply{status: resp.StatusCode, latency: time.Since(start), body: body}, nil
}

// renderPrediction prints the label/probability pairs in the order the server
// wrote them.
func renderPrediction(w io.Writer, body []byte) error {
	payload := orderedmap.New[string, any]()
	if err := json.Unmarshal(body, payload); err != nil {
		return fmt.Errorf("response is not a prediction: %w", err)
	}

	var data [][]string
	for pair := payload.Oldest(); pair != nil; pair = pair.Next() {
		if pair.Key == ranker.PredictionKey {
			continue
		}
		data = append(data, []string{pair.Key, fmt.Sprint(pair.Value)})
	}

	if prediction, ok := payload.Get(ranker.PredictionKey); ok {
		fmt.Fprintf(w, "prediction: %v\n", prediction)
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"LABEL", "PROBABILITY"})
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("    ")
	table.AppendBulk(data)
	table.Render()
	return nil
}

func identical(replies []reply) bool {
	for _, r := range replies[1:] {
		if r.status != replies[0].status || !bytes.Equal(r.body, replies[0].body) {
			return false
		}
	}
	return true
}
