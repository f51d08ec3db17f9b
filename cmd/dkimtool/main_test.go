package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/synqronlabs/domainkey/authres"
	"github.com/synqronlabs/domainkey/dkim"
)

const testMessage = "From: Joe SixPack <joe@football.example.com>\r\n" +
	"To: Suzie Q <suzie@shopping.example.net>\r\n" +
	"Subject: Is dinner ready?\r\n" +
	"\r\n" +
	"Hi.\r\n" +
	"\r\n" +
	"We lost the game. Are you hungry yet?\r\n"

func runTool(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(t.Context(), args, strings.NewReader(stdin), &out)
	return out.String(), err
}

func TestHelp(t *testing.T) {
	out, err := runTool(t, "", "--help")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "dkimtool keygen") {
		t.Errorf("help output missing usage: %q", out)
	}

	if _, err := runTool(t, "", "frobnicate"); err == nil {
		t.Error("expected error for unknown command")
	}
}

func TestKeygenRecordSignCanon(t *testing.T) {
	dir := t.TempDir()
	keyFile := filepath.Join(dir, "sel1.pem")

	if _, err := runTool(t, "", "keygen", "--type", "ed25519", "--out", keyFile); err != nil {
		t.Fatalf("keygen: %v", err)
	}

	out, err := runTool(t, "", "record", keyFile, "--testing")
	if err != nil {
		t.Fatalf("record: %v", err)
	}
	record, err := dkim.ParseRecord(strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("record output does not parse: %v\n%s", err, out)
	}
	if record.Key != "ed25519" || !record.IsTesting() {
		t.Errorf("record: got %+v", record)
	}

	conf := filepath.Join(dir, "dkim.toml")
	confData := "[signer]\ndomain = \"football.example.com\"\nselector = \"sel1\"\n" +
		"key_file = \"" + filepath.ToSlash(keyFile) + "\"\ncanonicalization = \"relaxed/relaxed\"\n"
	if err := os.WriteFile(conf, []byte(confData), 0o600); err != nil {
		t.Fatal(err)
	}

	signed, err := runTool(t, testMessage, "sign", "--conf", conf)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.HasPrefix(signed, "DKIM-Signature:") || !strings.HasSuffix(signed, testMessage) {
		t.Fatalf("unexpected signed message:\n%s", signed)
	}

	msgFile := filepath.Join(dir, "signed.eml")
	if err := os.WriteFile(msgFile, []byte(signed), 0o600); err != nil {
		t.Fatal(err)
	}
	out, err = runTool(t, "", "canon", msgFile)
	if err != nil {
		t.Fatalf("canon: %v", err)
	}
	if !strings.Contains(out, "--- body (relaxed") {
		t.Errorf("canon output missing body section:\n%s", out)
	}
	if !strings.Contains(out, "We lost the game. Are you hungry yet?\r\n") {
		t.Errorf("canon output missing body:\n%s", out)
	}
	if !strings.Contains(out, "from:Joe SixPack <joe@football.example.com>\r\n") {
		t.Errorf("canon output missing relaxed From header:\n%s", out)
	}
	if !strings.Contains(out, "b=\n") && !strings.Contains(out, "b=;") {
		t.Errorf("canon output should end with the stripped signature header:\n%s", out)
	}
}

func TestKeygenErrors(t *testing.T) {
	if _, err := runTool(t, "", "keygen", "--type", "dsa"); err == nil {
		t.Error("expected error for unknown key type")
	}
	if _, err := runTool(t, "", "keygen", "--bits", "512"); err == nil {
		t.Error("expected error for short RSA key")
	}
}

func TestVerifyUnsigned(t *testing.T) {
	dir := t.TempDir()
	report := filepath.Join(dir, "report.msgpack")
	conf := filepath.Join(dir, "dkim.yaml")
	if err := os.WriteFile(conf, []byte("verifier:\n  hostname: mx.example.net\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	out, err := runTool(t, testMessage, "verify", "--conf", conf, "--report", report)
	if !errors.Is(err, errNotPassed) {
		t.Fatalf("verify: got %v, want errNotPassed", err)
	}
	if !strings.Contains(out, "Authentication-Results: mx.example.net; dkim=none") {
		t.Errorf("unexpected output: %q", out)
	}

	data, err := os.ReadFile(report)
	if err != nil {
		t.Fatal(err)
	}
	r, err := authres.FromMessagePack(data)
	if err != nil {
		t.Fatalf("report: %v", err)
	}
	if r.Hostname != "mx.example.net" || r.Status != string(dkim.StatusNone) || len(r.Entries) != 0 {
		t.Errorf("report: got %+v", r)
	}
}

func TestCanonWithoutSignature(t *testing.T) {
	if _, err := runTool(t, testMessage, "canon"); err == nil {
		t.Error("expected error for unsigned message")
	}
}

func TestCanonNormalizesLineEndings(t *testing.T) {
	msg := "DKIM-Signature: v=1; a=rsa-sha256; d=example.com; s=sel; h=from; bh=AAAA; b=\n" +
		"From: a@example.com\n" +
		"\n" +
		"body\n"
	out, err := runTool(t, msg, "canon")
	if err != nil {
		t.Fatalf("canon: %v", err)
	}
	if !strings.Contains(out, "--- body (simple, 6 bytes)\nbody\r\n") {
		t.Errorf("body not converted to CRLF:\n%q", out)
	}
	if !strings.Contains(out, "From: a@example.com\r\n") {
		t.Errorf("header not converted to CRLF:\n%q", out)
	}
	// bh= is too short for sha256; canon only reads c=, h=, l= and b=.
	if !strings.Contains(out, "b=\n--- signature (0 bytes)\n") {
		t.Errorf("canon output should end with the stripped signature header:\n%q", out)
	}

	if _, err := runTool(t, "", "canon"); err == nil {
		t.Error("expected error for empty input")
	}
}

func TestCanonBodyLength(t *testing.T) {
	msg := "DKIM-Signature: v=1; c=relaxed/relaxed; h=From : Subject; l=5; b=AQID\r\n" +
		"From: a@example.com\r\n" +
		"Subject:  Hello  \r\n" +
		"\r\n" +
		"first line\r\nsecond line\r\n"
	out, err := runTool(t, msg, "canon")
	if err != nil {
		t.Fatalf("canon: %v", err)
	}
	if !strings.Contains(out, "--- body (relaxed, 5 bytes)\nfirst--- headers (relaxed)\n") {
		t.Errorf("body not cut to l=:\n%q", out)
	}
	if !strings.Contains(out, "from:a@example.com\r\nsubject:Hello\r\ndkim-signature:") {
		t.Errorf("relaxed header block missing:\n%q", out)
	}
	if !strings.Contains(out, "--- signature (3 bytes)\nAQID\n") {
		t.Errorf("signature section missing:\n%q", out)
	}
}

var errClosedOutput = errors.New("output closed")

type failingWriter struct{}

func (failingWriter) Write(p []byte) (int, error) { return 0, errClosedOutput }

func TestOutputWriteErrors(t *testing.T) {
	signed := "DKIM-Signature: v=1; h=from; b=\r\nFrom: a@example.com\r\n\r\nbody\r\n"
	err := run(t.Context(), []string{"canon"}, strings.NewReader(signed), failingWriter{})
	if !errors.Is(err, errClosedOutput) {
		t.Errorf("canon: got %v, want write error", err)
	}

	conf := filepath.Join(t.TempDir(), "dkim.yaml")
	if err := os.WriteFile(conf, []byte("verifier:\n  hostname: mx.example.net\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	err = run(t.Context(), []string{"verify", "--conf", conf}, strings.NewReader(testMessage), failingWriter{})
	if !errors.Is(err, errClosedOutput) {
		t.Errorf("verify: got %v, want write error", err)
	}
}
