// Command dutctl submits jobs to a dutlab server and inspects devices and results.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"dutlab/backend/app/dto"
	jwtutil "dutlab/backend/app/jwt"
	"dutlab/backend/config"
)

const usage = `usage: dutctl [-server URL] [-token JWT] <command> [flags]

commands:
  submit   submit a test job (blocks until a run-now job finishes)
  job      show the stored result of one job
  artifact print the captured output of one job
  logs     list stored results
  devices  show managed devices, status and queue
  drain    run the queued jobs of a free device
  reset    force a device back to Free and drain it (admin)
  login    exchange operator credentials for a token
  token    mint a token with the server's configured secret
`

type paramFlag map[string]any

// numericParams are sent as JSON numbers; every other value stays a string
// so credentials such as "0123" arrive unchanged.
var numericParams = map[string]bool{"iterations": true, "delay": true}

func (p paramFlag) String() string { return fmt.Sprint(map[string]any(p)) }

func (p paramFlag) Set(s string) error {
	k, v, ok := strings.Cut(s, "=")
	if !ok || k == "" {
		return fmt.Errorf("expected key=value, got %q", s)
	}
	if numericParams[k] {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%s must be a number, got %q", k, v)
		}
		p[k] = n
		return nil
	}
	p[k] = v
	return nil
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("dutctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() { fmt.Fprint(stderr, usage) }
	server := global.String("server", envOr("DUTLAB_SERVER", "http://127.0.0.1:9400"), "Server base URL")
	token := global.String("token", os.Getenv("DUTLAB_TOKEN"), "Bearer token")
	timeout := global.Duration("timeout", 30*time.Minute, "Request timeout")
	if err := global.Parse(args); err != nil {
		return 2
	}
	if global.NArg() == 0 {
		global.Usage()
		return 2
	}

	client := NewClient(*server, *token, *timeout)
	ctx := context.Background()
	cmd, rest := global.Arg(0), global.Args()[1:]

	var err error
	switch cmd {
	case "submit":
		err = cmdSubmit(ctx, client, rest, stdout, stderr)
	case "job":
		err = cmdJob(ctx, client, rest, stdout, stderr)
	case "artifact":
		err = cmdArtifact(ctx, client, rest, stdout, stderr)
	case "logs":
		err = cmdLogs(ctx, client, rest, stdout, stderr)
	case "devices":
		var devices []dto.DeviceView
		if devices, err = client.Devices(ctx); err == nil {
			renderDevices(stdout, devices)
		}
	case "drain", "reset":
		err = cmdDevice(ctx, client, cmd, rest, stdout, stderr)
	case "login":
		err = cmdLogin(ctx, client, rest, stdout, stderr)
	case "token":
		err = cmdToken(rest, stdout, stderr)
	default:
		fmt.Fprintf(stderr, "unknown command %q\n", cmd)
		global.Usage()
		return 2
	}
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(stderr, "dutctl:", err)
		return 1
	}
	return 0
}

func cmdSubmit(ctx context.Context, c *Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("submit", flag.ContinueOnError)
	fs.SetOutput(stderr)
	params := paramFlag{}
	var req dto.SubmitRequest
	fs.IntVar(&req.DeviceID, "device", 0, "Managed device id (0 for an unmanaged target)")
	fs.StringVar(&req.TestName, "test", "", "Test name")
	fs.IntVar(&req.Iterations, "iterations", 1, "Iteration count")
	fs.StringVar(&req.Serial, "serial", "", "Serial number of an unmanaged device")
	fs.StringVar(&req.HardwareType, "hardware", "", "Hardware type of an unmanaged device")
	fs.StringVar(&req.ComPort, "com-port", "", "Serial port of an unmanaged device")
	fs.StringVar(&req.MacAddress, "mac", "", "MAC address of an unmanaged device")
	ip := fs.String("ip", "", "Remote address")
	user := fs.String("user", "", "Remote username")
	password := fs.String("password", "", "Remote password")
	keyFile := fs.String("key-file", "", "Private key for the remote session")
	fs.Var(params, "param", "Extra parameter key=value (repeatable)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if req.TestName == "" {
		return errors.New("submit: -test is required")
	}
	for k, v := range map[string]string{"ip": *ip, "username": *user, "password": *password, "key_file": *keyFile} {
		if v != "" {
			params[k] = v
		}
	}
	req.Parameters = params
	res, err := c.Submit(ctx, req)
	if err != nil {
		return err
	}
	renderSubmit(stdout, res)
	return nil
}

func cmdJob(ctx context.Context, c *Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("job", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "Job id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("job: -id is required")
	}
	rec, err := c.Job(ctx, *id)
	if err != nil {
		return err
	}
	renderLogs(stdout, []dto.LogRecordView{rec})
	return nil
}

func cmdArtifact(ctx context.Context, c *Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("artifact", flag.ContinueOnError)
	fs.SetOutput(stderr)
	id := fs.Uint64("id", 0, "Job id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *id == 0 {
		return errors.New("artifact: -id is required")
	}
	text, err := c.Artifact(ctx, *id)
	if err != nil {
		return err
	}
	fmt.Fprint(stdout, text)
	return nil
}

func cmdLogs(ctx context.Context, c *Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("logs", flag.ContinueOnError)
	fs.SetOutput(stderr)
	device := fs.Int("device", 0, "Filter by device id")
	test := fs.String("test", "", "Filter by test name")
	limit := fs.Int("limit", 50, "Maximum records")
	if err := fs.Parse(args); err != nil {
		return err
	}
	recs, err := c.Logs(ctx, *device, *test, *limit)
	if err != nil {
		return err
	}
	renderLogs(stdout, recs)
	return nil
}

func cmdDevice(ctx context.Context, c *Client, op string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet(op, flag.ContinueOnError)
	fs.SetOutput(stderr)
	device := fs.Int("device", 0, "Managed device id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *device <= 0 {
		return fmt.Errorf("%s: -device is required", op)
	}
	call := c.Drain
	if op == "reset" {
		call = c.Reset
	}
	res, err := call(ctx, *device)
	if err != nil {
		return err
	}
	fmt.Fprintf(stdout, "device %d: executed %d queued job(s)\n", res.DeviceID, res.Executed)
	return nil
}

func cmdLogin(ctx context.Context, c *Client, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.SetOutput(stderr)
	user := fs.String("username", "", "Operator username")
	pass := fs.String("password", "", "Operator password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	tok, err := c.Login(ctx, *user, *pass)
	if err != nil {
		return err
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func cmdToken(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(stderr)
	cfgPath := fs.String("config", "config/config.yaml", "Server config holding the JWT secret")
	user := fs.String("username", "dutctl", "Subject of the token")
	role := fs.String("role", "operator", "Role claim (operator or admin)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		return err
	}
	signer := &jwtutil.Signer{Secret: []byte(cfg.JWT.Secret), Issuer: cfg.JWT.Issuer, ExpMin: cfg.JWT.ExpMin}
	tok, err := signer.Sign(0, *user, *role)
	if err != nil {
		return fmt.Errorf("sign token: %w", err)
	}
	fmt.Fprintln(stdout, tok)
	return nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
