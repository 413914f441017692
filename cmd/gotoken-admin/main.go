// Command gotoken-admin runs one-off operations against an engine built from
// a config file and GOTOKEN_* environment variables.
//
// Usage:
//
//	gotoken-admin [-config path] audit [-min-score n]
//	gotoken-admin [-config path] jwks
//	gotoken-admin [-config path] rotate-signing
//	gotoken-admin [-config path] issue -sub alice [-kind access] [-ttl 15m] [-claims '{"role":"admin"}'] [-encrypt]
//	gotoken-admin [-config path] inspect [-kind access] <token>
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	goToken "github.com/MrEthical07/goToken"
	"github.com/MrEthical07/goToken/jwt"
	"github.com/MrEthical07/goToken/token"
)

const (
	exitOK    = 0
	exitFail  = 1
	exitUsage = 2
)

var errUsage = errors.New("usage")

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

type command func(ctx context.Context, engine *goToken.Engine, args []string, out io.Writer) error

var commands = map[string]command{
	"audit":          auditCmd,
	"jwks":           jwksCmd,
	"rotate-signing": rotateSigningCmd,
	"issue":          issueCmd,
	"inspect":        inspectCmd,
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("gotoken-admin", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to a TOML config file")
	verbose := fs.Bool("v", false, "log engine activity to stderr")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() == 0 {
		fmt.Fprintln(stderr, "expected a command: audit, jwks, rotate-signing, issue, inspect")
		return exitUsage
	}
	name := fs.Arg(0)
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(stderr, "unknown command %q\n", name)
		return exitUsage
	}

	cfg, err := goToken.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "load config: %v\n", err)
		return exitFail
	}

	logger := zap.NewNop()
	if *verbose {
		zc := zap.NewDevelopmentConfig()
		zc.OutputPaths = []string{"stderr"}
		if logger, err = zc.Build(); err != nil {
			fmt.Fprintf(stderr, "build logger: %v\n", err)
			return exitFail
		}
	}

	engine, err := goToken.New().WithConfig(cfg).WithLogger(logger).Build(ctx)
	if err != nil {
		fmt.Fprintf(stderr, "build engine: %v\n", err)
		return exitFail
	}
	defer engine.Close()

	if err := cmd(ctx, engine, fs.Args()[1:], stdout); err != nil {
		if errors.Is(err, errUsage) {
			return exitUsage
		}
		fmt.Fprintf(stderr, "%s: %v\n", name, err)
		return exitFail
	}
	return exitOK
}

func auditCmd(ctx context.Context, engine *goToken.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	fs.SetOutput(out)
	minScore := fs.Int("min-score", 0, "fail when the score is below this value")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	res, err := engine.SecurityAudit(ctx)
	if err != nil {
		return err
	}
	if err := writeJSON(out, res); err != nil {
		return err
	}
	if res.Score < *minScore {
		return fmt.Errorf("score %d below %d (failed: %v)", res.Score, *minScore, res.Failed())
	}
	return nil
}

func jwksCmd(ctx context.Context, engine *goToken.Engine, _ []string, out io.Writer) error {
	set, err := engine.JWKS(ctx)
	if err != nil {
		if errors.Is(err, jwt.ErrNoPublicKeys) {
			return fmt.Errorf("%s has no public keys to publish", engine.Algorithm())
		}
		return err
	}
	_, err = fmt.Fprintln(out, string(set))
	return err
}

// rotateSigningCmd rotates once and prints the resulting key set, which holds
// both the new key and the one it retired.
func rotateSigningCmd(ctx context.Context, engine *goToken.Engine, _ []string, out io.Writer) error {
	rotated, err := engine.RotateSigningKey(ctx)
	if err != nil {
		return err
	}
	if !rotated {
		return fmt.Errorf("%s keys rotate with the signing secret", engine.Algorithm())
	}
	return jwksCmd(ctx, engine, nil, out)
}

func issueCmd(ctx context.Context, engine *goToken.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	fs.SetOutput(out)
	var (
		sub     = fs.String("sub", "", "subject")
		kind    = fs.String("kind", string(token.KindAccess), "token kind")
		ttl     = fs.Duration("ttl", 0, "lifetime; zero uses the configured default")
		extra   = fs.String("claims", "", "additional claims as a JSON object")
		encrypt = fs.Bool("encrypt", false, "encrypt the subject")
	)
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	k, err := token.ParseKind(*kind)
	if err != nil {
		return err
	}
	claims := map[string]any{}
	if *extra != "" {
		if err := json.Unmarshal([]byte(*extra), &claims); err != nil {
			return fmt.Errorf("claims: %w", err)
		}
	}
	if *sub != "" {
		claims["sub"] = *sub
	}

	var opts []token.CreateOption
	if *ttl > 0 {
		opts = append(opts, token.WithTTL(*ttl))
	}
	if *encrypt {
		opts = append(opts, token.WithEncryptedSubject())
	}

	raw, err := engine.IssueToken(ctx, claims, k, opts...)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, raw)
	return err
}

func inspectCmd(ctx context.Context, engine *goToken.Engine, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(out)
	kind := fs.String("kind", string(token.KindAccess), "expected token kind")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(out, "inspect takes exactly one token")
		return errUsage
	}

	k, err := token.ParseKind(*kind)
	if err != nil {
		return err
	}
	claims, err := engine.DecodeToken(ctx, fs.Arg(0), k)
	if err != nil {
		return err
	}
	return writeJSON(out, map[string]any{
		"claims":     claims.Map(),
		"expires_in": time.Until(claims.ExpiresAt).Round(time.Second).String(),
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
