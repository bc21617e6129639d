package cmd

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"

	"github.com/redhat-et/card-broker/broker-service/internal/proxy"
	"github.com/redhat-et/card-broker/pkg/broker"
	"github.com/redhat-et/card-broker/pkg/config"
	"github.com/redhat-et/card-broker/pkg/fault"
	"github.com/redhat-et/card-broker/pkg/logger"
	"github.com/redhat-et/card-broker/pkg/storage"
)

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Exchange a token and call one upstream resource",
	Long: `Probe runs one token exchange with the configured credentials, calls a
single upstream resource with the issued token and prints the status and
body. The token itself is never printed.`,
	RunE: runProbe,
}

var (
	probeResource   string
	probeIdentifier string
	probeOutput     string
	probeTimeout    time.Duration
)

func init() {
	rootCmd.AddCommand(probeCmd)
	probeCmd.Flags().StringVar(&probeResource, "resource", "cards", "Resource to call (cards, users, user, balance)")
	probeCmd.Flags().StringVar(&probeIdentifier, "identifier", "", "User identifier, required for --resource user")
	probeCmd.Flags().StringVar(&probeOutput, "output", "", "Write the body to a file or s3://bucket/key instead of stdout")
	probeCmd.Flags().DurationVar(&probeTimeout, "timeout", 30*time.Second, "Overall probe timeout")
}

func runProbe(cmd *cobra.Command, args []string) error {
	res, ok := proxy.ResourceByName(probeResource)
	if !ok {
		return fmt.Errorf("unknown resource %q", probeResource)
	}
	query, err := res.UpstreamQuery(url.Values{"identifier": {probeIdentifier}})
	if err != nil {
		return err
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), probeTimeout)
	defer cancel()

	log := logger.New(logger.ComponentProbe)
	log.Section("CARD API PROBE")

	stack, err := buildBroker(ctx, cfg)
	if err != nil {
		return err
	}
	log.Info("Token endpoint", "url", stack.broker.TokenURL(), "mode", stack.broker.Mode())

	// The oauth2 transport sets the bearer header on top of the instrumented client.
	ctx = context.WithValue(ctx, oauth2.HTTPClient, stack.client)
	client := oauth2.NewClient(ctx, broker.TokenSource(ctx, stack.tokens))

	target := cfg.Upstream.APIBaseURL + res.Path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", cfg.Upstream.UserAgent)
	req.Header.Set("Accept-Language", cfg.Upstream.AcceptLanguage)

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		log.Failure("Probe failed", "resource", res.Name, "kind", fault.KindOf(err), "error", err)
		return err
	}
	defer resp.Body.Close()
	log.Upstream(http.MethodGet, res.Path, resp.StatusCode, time.Since(start), "resource", res.Name)

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}
	if err := writeProbeOutput(ctx, cfg, body); err != nil {
		return err
	}

	fmt.Fprintf(os.Stderr, "%s %s -> %d (%d bytes)\n", http.MethodGet, res.Path, resp.StatusCode, len(body))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("upstream returned status %d", resp.StatusCode)
	}
	log.Success("Probe succeeded", "resource", res.Name)
	return nil
}

func writeProbeOutput(ctx context.Context, cfg *config.BrokerServiceConfig, body []byte) error {
	switch {
	case probeOutput == "":
		_, err := os.Stdout.Write(append(body, '\n'))
		return err
	case storage.IsObjectURI(probeOutput):
		bucket, key, err := storage.ParseObjectURI(probeOutput)
		if err != nil {
			return err
		}
		store, err := objectStore(ctx, cfg, bucket)
		if err != nil {
			return err
		}
		return store.PutObject(ctx, key, body)
	default:
		return os.WriteFile(probeOutput, body, 0o600)
	}
}
