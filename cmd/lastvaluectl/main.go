// Command lastvaluectl is the operator tool for lastvalued. It loads price
// files as one batch, reads committed prices, follows batch events, and
// encrypts API keys for the server's api_key_file.
//
// Usage:
//
//	lastvaluectl load  [-url U] [-chunk N] FILE.jsonl
//	lastvaluectl get   [-url U] [INSTRUMENT]
//	lastvaluectl watch [-url U] [-channels c1,c2]
//	lastvaluectl encrypt-key
//
// The API key is read from LASTVALUE_API_KEY.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"

	s3blob "github.com/alanyoungcy/lastvalue/internal/blob/s3"
	"github.com/alanyoungcy/lastvalue/internal/client"
	"github.com/alanyoungcy/lastvalue/internal/crypto"
	"github.com/alanyoungcy/lastvalue/internal/domain"
)

const defaultURL = "http://localhost:8000"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	_ = godotenv.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "load":
		err = runLoad(ctx, args, os.Stdout)
	case "get":
		err = runGet(ctx, args, os.Stdout)
	case "watch":
		err = runWatch(ctx, args, os.Stdout, logger)
	case "encrypt-key":
		err = runEncryptKey(os.Stdout)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "lastvaluectl %s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: lastvaluectl load|get|watch|encrypt-key [flags]")
}

func apiKey() string { return os.Getenv("LASTVALUE_API_KEY") }

func runLoad(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	baseURL := fs.String("url", defaultURL, "server URL")
	chunk := fs.Int("chunk", client.DefaultChunkSize, "records per publish call")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("expected one JSONL file (or - for stdin)")
	}

	var in io.Reader = os.Stdin
	if path := fs.Arg(0); path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	records, err := s3blob.DecodeSnapshot(in)
	if err != nil {
		return err
	}

	res, err := client.New(*baseURL, apiKey()).LoadBatch(ctx, records, *chunk)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"batch_id":   res.BatchID,
		"records":    len(records),
		"staged":     res.Staged,
		"applied":    res.Applied,
		"superseded": res.Superseded,
	})
}

func runGet(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("get", flag.ContinueOnError)
	baseURL := fs.String("url", defaultURL, "server URL")
	if err := fs.Parse(args); err != nil {
		return err
	}
	c := client.New(*baseURL, apiKey())

	if fs.NArg() == 0 {
		recs, err := c.ListPrices(ctx)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := writeJSON(out, domain.ToQuoteJSON(rec)); err != nil {
				return err
			}
		}
		return nil
	}

	rec, err := c.GetPrice(ctx, fs.Arg(0))
	if err != nil {
		return err
	}
	return writeJSON(out, domain.ToQuoteJSON(rec))
}

func runWatch(ctx context.Context, args []string, out io.Writer, logger *slog.Logger) error {
	fs := flag.NewFlagSet("watch", flag.ContinueOnError)
	baseURL := fs.String("url", defaultURL, "server URL")
	channels := fs.String("channels", "", "comma-separated channels (default: all)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var chans []string
	for _, c := range strings.Split(*channels, ",") {
		if c = strings.TrimSpace(c); c != "" {
			chans = append(chans, c)
		}
	}

	sub := client.NewSubscriber(*baseURL, apiKey(), chans, logger)
	return sub.Run(ctx, func(m client.Message) {
		_ = writeJSON(out, m)
	})
}

// runEncryptKey reads the key from LASTVALUE_SERVER_API_KEY and the password
// from LASTVALUE_SERVER_API_KEY_PASSWORD and prints the encrypted file.
func runEncryptKey(out io.Writer) error {
	blob, err := crypto.EncryptSecret(
		os.Getenv("LASTVALUE_SERVER_API_KEY"),
		os.Getenv("LASTVALUE_SERVER_API_KEY_PASSWORD"),
	)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(blob))
	return err
}

func writeJSON(w io.Writer, v any) error {
	return json.NewEncoder(w).Encode(v)
}
