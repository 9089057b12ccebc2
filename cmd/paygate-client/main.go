// paygate-client performs one payment-gated HTTP request from the
// command line: it negotiates the 402 challenge, checks it against the
// local spend policy, signs the transfer authorization, and prints the
// settled response.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"

	"github.com/prompthash/paygate"
	"github.com/prompthash/paygate/client"
	"github.com/prompthash/paygate/config"
	"github.com/prompthash/paygate/logger"
	"github.com/prompthash/paygate/policy"
	"github.com/prompthash/paygate/signer"
)

func main() {
	var (
		method  = flag.String("method", http.MethodPost, "HTTP method")
		body    = flag.String("body", "", "request body")
		yes     = flag.Bool("yes", false, "approve the payment without prompting")
		keyEnv  = flag.String("key-env", "PAYGATE_PRIVATE_KEY", "env var holding the hex private key")
		verbose = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Fprintln(os.Stderr, "usage: paygate-client [flags] <url>")
		flag.PrintDefaults()
		os.Exit(2)
	}
	url := flag.Arg(0)

	cfg, err := config.Load(config.OSEnv)
	if err != nil {
		fatal("invalid configuration: %v", err)
	}

	level := cfg.LogLevel
	if *verbose {
		level = "debug"
	}
	log := logger.NewZapLogger(level)

	hexKey := os.Getenv(*keyEnv)
	if hexKey == "" {
		fatal("%s is not set", *keyEnv)
	}
	sgn, err := signer.NewLocalSigner(hexKey)
	if err != nil {
		fatal("invalid private key: %v", err)
	}

	pg := paygate.New(cfg, paygate.WithLogger(log))
	orchestrator := pg.NewClient()

	confirm := func(_ context.Context, c client.ConfirmationContext) (bool, error) {
		amount, err := policy.AtomicToDecimal(c.AmountAtomic, policy.USDCDecimals)
		if err != nil {
			return false, err
		}
		if *yes {
			fmt.Fprintf(os.Stderr, "paying %s USDC on %s\n", amount, c.Network)
			return true, nil
		}
		fmt.Fprintf(os.Stderr, "pay %s USDC on %s? [y/N] ", amount, c.Network)
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil {
			return false, err
		}
		return strings.EqualFold(strings.TrimSpace(line), "y"), nil
	}

	res, err := orchestrator.Submit(context.Background(), sgn, &client.Request{
		Method: *method,
		URL:    url,
		Header: http.Header{},
		Body:   []byte(*body),
	}, confirm)
	if err != nil {
		fatal("request failed (%s): %v", res.State, err)
	}
	defer res.Response.Body.Close()

	if res.Settlement != nil {
		fmt.Fprintf(os.Stderr, "settled: tx=%s network=%s\n",
			res.Settlement.Transaction, res.Settlement.Network)
		if res.Settlement.Transaction != "" {
			fmt.Fprintf(os.Stderr, "explorer: %s\n", cfg.Primary.TxURL(res.Settlement.Transaction))
		}
	}

	fmt.Fprintf(os.Stderr, "status: %s\n", res.Response.Status)
	if _, err := io.Copy(os.Stdout, res.Response.Body); err != nil {
		fatal("failed to read response: %v", err)
	}
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
