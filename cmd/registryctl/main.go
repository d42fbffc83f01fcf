// Command registryctl submits calls to a running registryd.
package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"agentregistry/pkg/client"
	"agentregistry/pkg/domain"
)

// Version is set at build time.
var Version = "dev"

func main() {
	app := newApp(os.Stdout)
	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:    "registryctl",
		Usage:   "Interact with a registryd instance",
		Version: Version,
		Writer:  out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "url",
				Value:   "http://127.0.0.1:8080",
				Usage:   "registryd base URL",
				EnvVars: []string{"REGISTRY_URL"},
			},
			&cli.StringFlag{
				Name:    "principal",
				Usage:   "hex address submitted as the caller",
				EnvVars: []string{"REGISTRY_PRINCIPAL"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "register",
				Usage:  "register the configured principal",
				Action: withClient(registerCmd),
			},
			{
				Name:      "call",
				Usage:     "submit an operation with JSON arguments",
				ArgsUsage: "<operation> [json-args]",
				Action:    withClient(callCmd),
			},
			{
				Name:      "get",
				Usage:     "print one record",
				ArgsUsage: "<entity> <id>",
				Action:    withClient(getCmd),
			},
			{
				Name:      "list",
				Usage:     "print every record of an entity",
				ArgsUsage: "<entity>",
				Action:    withClient(listCmd),
			},
			{
				Name:      "next-id",
				Usage:     "print the identifier the next create would receive",
				ArgsUsage: "<entity>",
				Action:    withClient(nextIDCmd),
			},
			{
				Name:   "agents",
				Usage:  "list registered principals",
				Action: withClient(agentsCmd),
			},
			{
				Name:      "put-image",
				Usage:     "upload an image file and print its hash",
				ArgsUsage: "<file>",
				Action:    withClient(putImageCmd),
			},
		},
	}
}

func withClient(fn func(*cli.Context, *client.Client) error) cli.ActionFunc {
	return func(cCtx *cli.Context) error {
		opts := []client.Option{}
		if raw := cCtx.String("principal"); raw != "" {
			if !common.IsHexAddress(raw) {
				return fmt.Errorf("principal %q is not a hex address", raw)
			}
			opts = append(opts, client.WithPrincipal(common.HexToAddress(raw)))
		}
		return fn(cCtx, client.New(cCtx.String("url"), opts...))
	}
}

func registerCmd(cCtx *cli.Context, c *client.Client) error {
	out, err := c.Register(cCtx.Context)
	if err != nil {
		return err
	}
	return printJSON(cCtx, out)
}

func callCmd(cCtx *cli.Context, c *client.Client) error {
	if cCtx.NArg() < 1 {
		return errors.New("call: operation required")
	}
	var args json.RawMessage
	if raw := cCtx.Args().Get(1); raw != "" {
		if !json.Valid([]byte(raw)) {
			return fmt.Errorf("call: arguments are not valid JSON")
		}
		args = json.RawMessage(raw)
	}
	var (
		out client.Outcome
		err error
	)
	if args == nil {
		out, err = c.Call(cCtx.Context, cCtx.Args().First(), nil)
	} else {
		out, err = c.Call(cCtx.Context, cCtx.Args().First(), args)
	}
	if err != nil {
		return err
	}
	return printJSON(cCtx, out)
}

func getCmd(cCtx *cli.Context, c *client.Client) error {
	entity, err := domain.ParseEntityType(cCtx.Args().Get(0))
	if err != nil {
		return err
	}
	id, err := strconv.ParseUint(cCtx.Args().Get(1), 10, 32)
	if err != nil {
		return fmt.Errorf("get: invalid id: %w", err)
	}
	var record json.RawMessage
	if err := c.Get(cCtx.Context, entity, uint32(id), &record); err != nil {
		return err
	}
	return printJSON(cCtx, record)
}

func listCmd(cCtx *cli.Context, c *client.Client) error {
	entity, err := domain.ParseEntityType(cCtx.Args().First())
	if err != nil {
		return err
	}
	var items []domain.Keyed[json.RawMessage]
	if err := c.List(cCtx.Context, entity, &items); err != nil {
		return err
	}
	return printJSON(cCtx, items)
}

func nextIDCmd(cCtx *cli.Context, c *client.Client) error {
	entity, err := domain.ParseEntityType(cCtx.Args().First())
	if err != nil {
		return err
	}
	next, err := c.NextID(cCtx.Context, entity)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cCtx.App.Writer, next)
	return err
}

func agentsCmd(cCtx *cli.Context, c *client.Client) error {
	agents, err := c.ListAgents(cCtx.Context)
	if err != nil {
		return err
	}
	for _, a := range agents {
		if _, err := fmt.Fprintln(cCtx.App.Writer, a.Hex()); err != nil {
			return err
		}
	}
	return nil
}

func putImageCmd(cCtx *cli.Context, c *client.Client) error {
	path := cCtx.Args().First()
	if path == "" {
		return errors.New("put-image: file required")
	}
	body, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension(filepath.Ext(path))
	if contentType == "" {
		contentType = http.DetectContentType(body)
	}
	hash, err := c.PutImage(cCtx.Context, body, contentType)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(cCtx.App.Writer, hash.Hex())
	return err
}

func printJSON(cCtx *cli.Context, v any) error {
	enc := json.NewEncoder(cCtx.App.Writer)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
