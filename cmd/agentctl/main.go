// Command agentctl signs calls with a local key and submits them to agentd.
//
//	agentctl [-config file] address
//	agentctl [-config file] info
//	agentctl [-config file] encrypt-key -out key.json
//	agentctl [-config file] call -to factory -method createAgent -args '{...}' [-value 0.5]
//
// The key comes from the [key] config section or AGENTVAULT_KEY_* variables.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alanyoungcy/agentvault/internal/config"
	"github.com/alanyoungcy/agentvault/internal/crypto"
	"github.com/alanyoungcy/agentvault/internal/domain"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Usage = usage
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "agentctl: load config: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, flag.Args(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: agentctl [-config file] <address|info|encrypt-key|call> [flags]")
	flag.PrintDefaults()
}

var errUsage = errors.New("agentctl: missing or unknown command")

func run(ctx context.Context, cfg *config.Config, args []string, out io.Writer) error {
	if len(args) == 0 {
		usage()
		return errUsage
	}
	keyCfg := crypto.KeyConfig{
		RawPrivateKey:    cfg.Key.PrivateKey,
		EncryptedKeyPath: cfg.Key.EncryptedKeyPath,
		KeyPassword:      cfg.Key.KeyPassword,
	}
	api := newAPIClient(cfg.Key.APIURL)

	switch cmd, rest := args[0], args[1:]; cmd {
	case "address":
		signer, err := crypto.LoadSigner(keyCfg)
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(out, signer.Address().Hex())
		return err

	case "info":
		info, err := api.Info(ctx)
		if err != nil {
			return err
		}
		return printJSON(out, info)

	case "encrypt-key":
		fs := flag.NewFlagSet("encrypt-key", flag.ContinueOnError)
		outPath := fs.String("out", "key.json", "file to write the encrypted key to")
		iterations := fs.Int("iterations", 0, "PBKDF2 iterations (0 uses the default)")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		return encryptKey(cfg.Key, *outPath, *iterations)

	case "call":
		fs := flag.NewFlagSet("call", flag.ContinueOnError)
		to := fs.String("to", "", "target address or factory|permissions|adapter|venue|native")
		method := fs.String("method", "", "method name, e.g. createAgent")
		rawArgs := fs.String("args", "", "JSON arguments")
		value := fs.String("value", "", "native value in ether")
		ttl := fs.Duration("ttl", 5*time.Minute, "how long the signature stays valid")
		if err := fs.Parse(rest); err != nil {
			return err
		}
		if *to == "" || *method == "" {
			return fmt.Errorf("agentctl: call: -to and -method are required")
		}

		signer, err := crypto.LoadSigner(keyCfg)
		if err != nil {
			return err
		}
		target, err := api.resolveTarget(ctx, *to)
		if err != nil {
			return err
		}
		call := domain.Call{From: signer.Address(), To: target, Method: *method}
		if *value != "" {
			wei, err := domain.ParseEther(*value)
			if err != nil {
				return fmt.Errorf("agentctl: call: %w", err)
			}
			call.Value = wei
		}
		if *rawArgs != "" {
			if !json.Valid([]byte(*rawArgs)) {
				return fmt.Errorf("agentctl: call: -args is not valid JSON")
			}
			call.Args = json.RawMessage(*rawArgs)
		}

		receipt, err := signAndSubmit(ctx, api, signer, call, time.Now().Add(*ttl))
		if err != nil {
			return err
		}
		return printJSON(out, receipt)

	default:
		usage()
		return errUsage
	}
}

func signAndSubmit(ctx context.Context, api *apiClient, signer *crypto.Signer, call domain.Call, deadline time.Time) (json.RawMessage, error) {
	env, err := signer.Sign(crypto.NewEnvelope(call, deadline))
	if err != nil {
		return nil, err
	}
	return api.Submit(ctx, env)
}

func encryptKey(k config.KeyConfig, outPath string, iterations int) error {
	if k.PrivateKey == "" {
		return fmt.Errorf("agentctl: encrypt-key: set AGENTVAULT_KEY_PRIVATE_KEY")
	}
	if k.KeyPassword == "" {
		return fmt.Errorf("agentctl: encrypt-key: set AGENTVAULT_KEY_PASSWORD")
	}
	blob, err := crypto.EncryptKey(k.PrivateKey, k.KeyPassword, iterations)
	if err != nil {
		return err
	}
	if err := os.WriteFile(outPath, blob, 0o600); err != nil {
		return fmt.Errorf("agentctl: encrypt-key: %w", err)
	}
	return nil
}

func printJSON(out io.Writer, v any) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
