package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/urfave/cli/v3"

	"go-idverify/logging"
	"go-idverify/mrz"
	"go-idverify/verification"
)

func main() {
	app := &cli.Command{
		Name:  "idverify",
		Usage: "Identity document inspection tools",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			logging.InitLogger(cmd.String("log-level"))
			return ctx, nil
		},
		Commands: []*cli.Command{
			mrzCommand(),
			resultCommand(),
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func mrzCommand() *cli.Command {
	lineFlags := []cli.Flag{
		&cli.StringFlag{
			Name:     "line1",
			Usage:    "First machine readable zone line (44 characters)",
			Required: true,
		},
		&cli.StringFlag{
			Name:     "line2",
			Usage:    "Second machine readable zone line (44 characters)",
			Required: true,
		},
	}

	return &cli.Command{
		Name:  "mrz",
		Usage: "Parse and validate a machine readable zone",
		Commands: []*cli.Command{
			{
				Name:   "parse",
				Usage:  "Parse the zone and print the record with its validity",
				Flags:  lineFlags,
				Action: runMRZParse,
			},
			{
				Name:   "key",
				Usage:  "Derive the chip access key from the zone",
				Flags:  lineFlags,
				Action: runMRZKey,
			},
		},
	}
}

func runMRZParse(ctx context.Context, cmd *cli.Command) error {
	record := mrz.Parse(cmd.String("line1"), cmd.String("line2"))

	output := struct {
		mrz.Record
		Valid bool   `json:"valid"`
		Error string `json:"error,omitempty"`
	}{Record: record, Valid: record.IsValid()}
	if err := record.Validate(); err != nil {
		output.Error = err.Error()
	}

	return printJSON(output)
}

func runMRZKey(ctx context.Context, cmd *cli.Command) error {
	record := mrz.Parse(cmd.String("line1"), cmd.String("line2"))

	accessKey, err := record.DeriveAccessKey()
	if err != nil {
		return fmt.Errorf("cannot derive access key: %w", err)
	}

	fmt.Println(accessKey)
	return nil
}

func resultCommand() *cli.Command {
	return &cli.Command{
		Name:  "result",
		Usage: "Work with backend verification payloads",
		Commands: []*cli.Command{
			{
				Name:  "parse",
				Usage: "Flatten a verification payload (from file or stdin)",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "file",
						Usage: "Payload file; omit to read stdin",
					},
				},
				Action: runResultParse,
			},
		},
	}
}

func runResultParse(ctx context.Context, cmd *cli.Command) error {
	var payload []byte
	var err error
	if path := cmd.String("file"); path != "" {
		payload, err = os.ReadFile(path)
	} else {
		payload, err = io.ReadAll(os.Stdin)
	}
	if err != nil {
		return fmt.Errorf("failed to read payload: %w", err)
	}

	return printJSON(verification.Parse(payload))
}

func printJSON(v any) error {
	output, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal output: %w", err)
	}
	fmt.Println(string(output))
	return nil
}
