package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"mini-jsonrpc/client"
	"mini-jsonrpc/jsonrpc"
	"mini-jsonrpc/transport"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	shapeName   string
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call [endpoint] [method] [params-json]",
	Short: "Send a request and print its result",
	Example: `  rpcctl call workspace-master getWorkspace '{"id":"ws1"}' --shape dto
  rpcctl call workspace-master ping --shape string`,
	Args: cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args)
		if err != nil {
			return err
		}
		c, closeClient, err := newClient()
		if err != nil {
			return err
		}
		defer closeClient()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()

		result, err := callWithShape(ctx, c.Request(args[0], args[1], params), shapeName)
		var remote *jsonrpc.RemoteError
		if errors.As(err, &remote) {
			color.Red("✗ %s returned error %d: %s", args[0], remote.Code, remote.Message)
			return err
		}
		if err != nil {
			return err
		}

		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		color.Green("✓ %s %s", args[0], args[1])
		fmt.Println(string(out))
		return nil
	},
}

var notifyCmd = &cobra.Command{
	Use:   "notify [endpoint] [method] [params-json]",
	Short: "Send a notification, no reply expected",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		params, err := parseParams(args)
		if err != nil {
			return err
		}
		c, closeClient, err := newClient()
		if err != nil {
			return err
		}
		defer closeClient()

		ctx, cancel := context.WithTimeout(cmd.Context(), callTimeout)
		defer cancel()
		if err := c.Request(args[0], args[1], params).SendAndSkipResult(ctx); err != nil {
			return err
		}
		color.Green("✓ notified %s of %s", args[0], args[1])
		return nil
	},
}

func parseParams(args []string) (any, error) {
	if len(args) < 3 {
		return nil, nil
	}
	raw := json.RawMessage(args[2])
	if !json.Valid(raw) {
		return nil, fmt.Errorf("params are not valid JSON: %s", args[2])
	}
	return raw, nil
}

func newClient() (*client.Client, func(), error) {
	reg, closeReg, err := cfg.Registry(logger)
	if err != nil {
		return nil, nil, err
	}
	bal, err := cfg.LoadBalancer()
	if err != nil {
		closeReg()
		return nil, nil, err
	}
	tr := transport.NewEndpointTransmitter(cfg.Dialer(), reg, bal,
		transport.WithHeartbeat(cfg.HeartbeatInterval),
		transport.WithDialTimeout(cfg.DialTimeout),
		transport.WithLogger(logger),
	)
	c := client.New(tr, client.WithLogger(logger), client.WithRequestTimeout(cfg.RequestTimeout))
	return c, func() {
		tr.Close()
		closeReg()
	}, nil
}

// callWithShape sends the request and decodes the result as the named shape. DTO results
// are kept as raw JSON since the CLI has no Go type for them.
func callWithShape(ctx context.Context, req *client.SendConfigurator, shape string) (any, error) {
	switch shape {
	case "empty":
		_, err := client.Call[struct{}](ctx, req, jsonrpc.Empty())
		return "ok", err
	case "string":
		return client.Call[string](ctx, req, jsonrpc.String())
	case "double":
		return client.Call[float64](ctx, req, jsonrpc.Double())
	case "boolean":
		return client.Call[bool](ctx, req, jsonrpc.Boolean())
	case "dto":
		return client.Call[json.RawMessage](ctx, req, jsonrpc.DTOOf[json.RawMessage]())
	case "string-list":
		return client.Call[[]string](ctx, req, jsonrpc.StringList())
	case "boolean-list":
		return client.Call[[]bool](ctx, req, jsonrpc.BooleanList())
	case "dto-list":
		return client.Call[[]json.RawMessage](ctx, req, jsonrpc.DTOListOf[json.RawMessage]())
	}
	return nil, fmt.Errorf("%w: unknown shape %q", jsonrpc.ErrInvalidArgument, shape)
}

func init() {
	callCmd.Flags().StringVar(&shapeName, "shape", "dto",
		"result shape: empty, string, double, boolean, dto, string-list, boolean-list, dto-list")
	for _, c := range []*cobra.Command{callCmd, notifyCmd} {
		c.Flags().DurationVar(&callTimeout, "timeout", 10*time.Second, "give up after this long")
	}
}
