// Command dkimtool signs and verifies messages with DKIM, generates keys and
// prints the DNS records that publish them.
package main

import (
	"bytes"
	"context"
	"crypto"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/docopt/docopt-go"

	"github.com/synqronlabs/domainkey/authres"
	"github.com/synqronlabs/domainkey/config"
	"github.com/synqronlabs/domainkey/dkim"
	"github.com/synqronlabs/domainkey/mailio"
)

const version = "dkimtool 0.1.0"

const usage = `dkimtool.
Usage:
	dkimtool sign [--conf <filename>] [<message>]
	dkimtool verify [--conf <filename>] [--report <file>] [<message>]
	dkimtool keygen [--type <type>] [--bits <bits>] [--out <file>]
	dkimtool record <keyfile> [--testing] [--strict]
	dkimtool canon [--conf <filename>] [<message>]
	dkimtool -h | --help
	dkimtool --version
Options:
	--conf <filename>  Configuration file, YAML or TOML.
	--report <file>    Also write a MessagePack verification report.
	--type <type>      Key type, rsa or ed25519 [default: rsa].
	--bits <bits>      RSA key size [default: 2048].
	--out <file>       Write the private key to a file instead of stdout.
	--testing          Mark the key as in testing (t=y).
	--strict           Forbid subdomain identities (t=s).
	-h --help          Show this screen.
	--version          Show version.`

// errNotPassed makes verify exit non-zero when no signature passed.
var errNotPassed = errors.New("no passing DKIM signature")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := run(ctx, os.Args[1:], os.Stdin, os.Stdout)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "dkimtool:", err)
		os.Exit(1)
	}
}

type command struct {
	opts   docopt.Opts
	stdin  io.Reader
	stdout io.Writer
}

func run(ctx context.Context, argv []string, stdin io.Reader, stdout io.Writer) error {
	helped := false
	parser := &docopt.Parser{
		HelpHandler: func(err error, usage string) {
			if err == nil {
				helped = true
				fmt.Fprintln(stdout, usage)
			}
		},
	}
	opts, err := parser.ParseArgs(usage, argv, version)
	if err != nil {
		return fmt.Errorf("%w\n%s", err, usage)
	}
	if helped {
		return nil
	}

	cmd := &command{opts: opts, stdin: stdin, stdout: stdout}
	switch {
	case cmd.flag("sign"):
		return cmd.sign()
	case cmd.flag("verify"):
		return cmd.verify(ctx)
	case cmd.flag("keygen"):
		return cmd.keygen()
	case cmd.flag("record"):
		return cmd.record()
	case cmd.flag("canon"):
		return cmd.canon()
	}
	return nil
}

func (c *command) flag(key string) bool {
	b, _ := c.opts.Bool(key)
	return b
}

// arg returns the string value of key, or "" when it was not given.
func (c *command) arg(key string) string {
	s, _ := c.opts.String(key)
	return s
}

func (c *command) config() (*config.Config, error) {
	return config.Load(c.arg("--conf"))
}

func (c *command) message() ([]byte, error) {
	path := c.arg("<message>")
	if path == "" || path == "-" {
		return mailio.ReadMessage(c.stdin, 0)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return mailio.ReadMessage(f, 0)
}

func (c *command) sign() error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	logger, closer, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	signer, err := cfg.NewSigner(logger)
	if err != nil {
		return err
	}
	msg, err := c.message()
	if err != nil {
		return err
	}
	header, err := signer.Sign(msg)
	if err != nil {
		return err
	}
	if _, err := io.WriteString(c.stdout, header); err != nil {
		return err
	}
	_, err = c.stdout.Write(msg)
	return err
}

func (c *command) verify(ctx context.Context) error {
	cfg, err := c.config()
	if err != nil {
		return err
	}
	logger, closer, err := cfg.NewLogger(os.Stderr)
	if err != nil {
		return err
	}
	defer closer.Close()

	resolver, err := cfg.NewResolver()
	if err != nil {
		return err
	}
	verifier, err := cfg.NewVerifier(resolver, logger)
	if err != nil {
		return err
	}
	msg, err := c.message()
	if err != nil {
		return err
	}
	results, err := verifier.Verify(ctx, msg)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(c.stdout, "Authentication-Results: %s\r\n", authres.Format(cfg.Verifier.Hostname, results)); err != nil {
		return err
	}

	if path := c.arg("--report"); path != "" {
		data, err := authres.NewReport(cfg.Verifier.Hostname, results).ToMessagePack()
		if err != nil {
			return err
		}
		if err := os.WriteFile(path, data, 0o644); err != nil {
			return err
		}
	}

	if authres.Summary(results) != dkim.StatusPass {
		return errNotPassed
	}
	return nil
}

func (c *command) keygen() error {
	var key crypto.Signer
	switch typ := c.arg("--type"); typ {
	case "rsa":
		bits, err := strconv.Atoi(c.arg("--bits"))
		if err != nil {
			return fmt.Errorf("--bits: %w", err)
		}
		if bits < 1024 {
			return fmt.Errorf("--bits: RSA keys must be at least 1024 bits, got %d", bits)
		}
		if key, err = rsa.GenerateKey(rand.Reader, bits); err != nil {
			return err
		}
	case "ed25519":
		_, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return err
		}
		key = priv
	default:
		return fmt.Errorf("--type: unknown key type %q", typ)
	}

	data, err := config.MarshalPrivateKey(key)
	if err != nil {
		return err
	}
	if path := c.arg("--out"); path != "" {
		return os.WriteFile(path, data, 0o600)
	}
	_, err = c.stdout.Write(data)
	return err
}

func (c *command) record() error {
	data, err := os.ReadFile(c.arg("<keyfile>"))
	if err != nil {
		return err
	}
	key, err := config.ParsePrivateKey(data)
	if err != nil {
		return err
	}

	record := &dkim.Record{Version: "DKIM1", Key: "rsa", PublicKey: key.Public()}
	if _, ok := key.(ed25519.PrivateKey); ok {
		record.Key = "ed25519"
	}
	if c.flag("--testing") {
		record.Flags = append(record.Flags, "y")
	}
	if c.flag("--strict") {
		record.Flags = append(record.Flags, "s")
	}

	txt, err := record.ToTXT()
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(c.stdout, txt)
	return err
}

// canon prints the exact data hashed for the first DKIM-Signature of the
// message: the canonical body, the canonical header block and the decoded
// signature. Only c=, h=, l= and b= are read, so signatures that fail
// verification can still be inspected.
func (c *command) canon() error {
	msg, err := c.message()
	if err != nil {
		return err
	}
	header, body, signature, err := dkim.CanonicalizeSigned(msg)
	if err != nil {
		return err
	}
	mode, err := signatureCanonicalization(msg)
	if err != nil {
		return err
	}

	var out bytes.Buffer
	fmt.Fprintf(&out, "--- body (%s, %d bytes)\n", mode.Body, len(body))
	out.Write(body)
	fmt.Fprintf(&out, "--- headers (%s)\n", mode.Header)
	out.Write(header)
	fmt.Fprintf(&out, "\n--- signature (%d bytes)\n%s\n", len(signature), base64.StdEncoding.EncodeToString(signature))
	_, err = out.WriteTo(c.stdout)
	return err
}

// signatureCanonicalization returns the c= setting of the first
// DKIM-Signature header.
func signatureCanonicalization(msg []byte) (dkim.CanonicalizationMode, error) {
	headers, _, err := dkim.SplitMessage(msg)
	if err != nil {
		return dkim.CanonicalizationMode{}, err
	}
	for _, h := range headers {
		if h.Key() == "dkim-signature" {
			sig, err := dkim.ParseSignatureUnchecked(h.Value)
			if err != nil {
				return dkim.CanonicalizationMode{}, err
			}
			return sig.Canonicalization, nil
		}
	}
	return dkim.CanonicalizationMode{}, dkim.ErrNoSignature
}
