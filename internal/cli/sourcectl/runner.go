package sourcectl

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/duckmesh/duckmesh-source/internal/connector"
	"github.com/duckmesh/duckmesh-source/internal/ndjson"
	"github.com/duckmesh/duckmesh-source/internal/stream"
)

type Options struct {
	// Connector carries the configured credentials, batch size and failure
	// policy. Flags override the last two per invocation.
	Connector *connector.Connector
	Stdout    io.Writer
	Stderr    io.Writer
}

func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}
	if defaults.Connector == nil {
		_, _ = fmt.Fprintln(stderr, "connector is not configured")
		return 1
	}

	fs := flag.NewFlagSet("duckmesh-sourcectl", flag.ContinueOnError)
	fs.SetOutput(stderr)

	defaultBatchSize := defaults.Connector.BatchSize
	if defaultBatchSize < 1 {
		defaultBatchSize = stream.DefaultBatchSize
	}
	batchSize := fs.Int("batch-size", defaultBatchSize, "rows per emitted batch")
	skipFailed := fs.Bool("skip-failed", defaults.Connector.Policy == connector.FailurePolicySkip, "continue with the next dataset when one fails")

	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		writeUsage(stderr)
		return 2
	}
	if *batchSize < 1 {
		_, _ = fmt.Fprintf(stderr, "invalid -batch-size %d: must be >= 1\n", *batchSize)
		return 2
	}

	c := *defaults.Connector
	c.BatchSize = *batchSize
	c.Policy = connector.FailurePolicyAbort
	if *skipFailed {
		c.Policy = connector.FailurePolicySkip
	}
	creds := c.Engine.Credentials

	command := strings.TrimSpace(fs.Arg(0))
	rest := fs.Args()[1:]
	switch command {
	case "run":
		if len(rest) != 1 {
			_, _ = fmt.Fprintln(stderr, "run requires exactly one descriptor path")
			return 2
		}
		run, err := c.Run(ctx, rest[0], creds)
		if errors.Is(err, connector.ErrNotDescriptor) {
			_, _ = fmt.Fprintf(stderr, "skipping %s: not a dataset descriptor\n", rest[0])
			return 0
		}
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "run failed: %s\n", creds.Redact(err.Error()))
			return 1
		}
		if err := ndjson.EmitEnumeration(ctx, ndjson.NewWriter(stdout, creds, nil), run, c.Policy); err != nil {
			_, _ = fmt.Fprintf(stderr, "run failed: %s\n", creds.Redact(err.Error()))
			return 1
		}
		return 0

	case "query":
		text := strings.Join(rest, " ")
		if strings.TrimSpace(text) == "" {
			_, _ = fmt.Fprintln(stderr, "query requires sql text")
			return 2
		}
		result, err := c.Query(ctx, text, c.BatchSize)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "query failed: %s\n", creds.Redact(err.Error()))
			return 1
		}
		if err := ndjson.EmitQuery(ndjson.NewWriter(stdout, creds, nil), result); err != nil {
			_, _ = fmt.Fprintf(stderr, "query failed: %s\n", creds.Redact(err.Error()))
			return 1
		}
		return 0

	case "test":
		location := ""
		if len(rest) > 0 {
			location = rest[0]
		}
		result := c.TestConnection(ctx, creds, location)
		writePretty(stdout, result)
		if !result.OK {
			return 1
		}
		return 0

	case "options":
		writePretty(stdout, connector.Options())
		return 0

	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n", command)
		writeUsage(stderr)
		return 2
	}
}

func writePretty(w io.Writer, value any) {
	formatted, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		_, _ = fmt.Fprintf(w, "%v\n", value)
		return
	}
	_, _ = fmt.Fprintln(w, string(formatted))
}

func writeUsage(w io.Writer) {
	_, _ = fmt.Fprintln(w, "usage: duckmesh-sourcectl [flags] <command>")
	_, _ = fmt.Fprintln(w, "")
	_, _ = fmt.Fprintln(w, "commands:")
	_, _ = fmt.Fprintln(w, "  run <descriptor>   stream every dataset in a YAML descriptor as NDJSON")
	_, _ = fmt.Fprintln(w, "  query <sql>        stream an ad-hoc query as NDJSON")
	_, _ = fmt.Fprintln(w, "  test [location]    check that storage is reachable with the configured credentials")
	_, _ = fmt.Fprintln(w, "  options            print the credential options")
}
