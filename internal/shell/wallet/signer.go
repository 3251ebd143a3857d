package wallet

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/artpar/celldeploy/internal/core/ledger"
	"github.com/awnumar/memguard"
	"golang.org/x/term"
)

var (
	// ErrNoTerminal is returned when a password is needed but stdin is not
	// a terminal.
	ErrNoTerminal = errors.New("password prompt needs a terminal")

	// ErrBadSignature is returned when the signing tool output is unusable.
	ErrBadSignature = errors.New("unusable signature output")
)

// =============================================================================
// Password Prompt
// =============================================================================

// PasswordReader asks the operator for the keystore password.
type PasswordReader interface {
	ReadPassword(prompt string) ([]byte, error)
}

// TerminalPassword reads a password from a terminal without echo.
type TerminalPassword struct {
	In  *os.File
	Out io.Writer
}

// ReadPassword implements PasswordReader.
func (t TerminalPassword) ReadPassword(prompt string) ([]byte, error) {
	fd := int(t.In.Fd())
	if !term.IsTerminal(fd) {
		return nil, ErrNoTerminal
	}
	fmt.Fprint(t.Out, prompt)
	password, err := term.ReadPassword(fd)
	fmt.Fprintln(t.Out)
	if err != nil {
		return nil, fmt.Errorf("read password: %w", err)
	}
	return password, nil
}

// =============================================================================
// ckb-cli Signer
// =============================================================================

// CLIConfig configures the ckb-cli keystore signer.
type CLIConfig struct {
	Bin     string // ckb-cli executable
	URL     string // node RPC endpoint passed through to ckb-cli
	Account string // deployer address
}

// runFunc runs a command with stdin and returns its stdout.
type runFunc func(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error)

// CLISigner signs messages with a key held in the ckb-cli keystore. The
// password is asked once and kept in locked memory until Close.
type CLISigner struct {
	cfg    CLIConfig
	prompt PasswordReader
	run    runFunc
	logger *slog.Logger

	mu       sync.Mutex
	password *memguard.LockedBuffer
}

// NewCLISigner creates a signer.
func NewCLISigner(cfg CLIConfig, prompt PasswordReader, logger *slog.Logger) *CLISigner {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Bin == "" {
		cfg.Bin = "ckb-cli"
	}
	return &CLISigner{
		cfg:    cfg,
		prompt: prompt,
		run:    runCommand,
		logger: logger.With("component", "signer"),
	}
}

type signatureOutput struct {
	Signature   string `json:"signature"`
	Recoverable bool   `json:"recoverable"`
}

// SignMessage implements Signer.
func (s *CLISigner) SignMessage(ctx context.Context, message ledger.Hash) ([]byte, error) {
	password, err := s.unlock()
	if err != nil {
		return nil, err
	}

	args := []string{
		"--url", s.cfg.URL,
		"util", "sign-message",
		"--recoverable",
		"--output-format", "json",
		"--from-account", s.cfg.Account,
		"--message", hex.EncodeToString(message[:]),
	}
	s.logger.Debug("signing message", "message", message.String())
	out, err := s.run(ctx, s.cfg.Bin, args, password.Bytes())
	if err != nil {
		return nil, err
	}
	return parseSignature(out)
}

// Close wipes the cached password.
func (s *CLISigner) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.password != nil {
		s.password.Destroy()
		s.password = nil
	}
}

func (s *CLISigner) unlock() (*memguard.LockedBuffer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.password != nil {
		return s.password, nil
	}
	raw, err := s.prompt.ReadPassword("Password: ")
	if err != nil {
		return nil, err
	}
	// NewBufferFromBytes wipes raw.
	s.password = memguard.NewBufferFromBytes(raw)
	return s.password, nil
}

func parseSignature(out []byte) ([]byte, error) {
	text := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(string(out)), "Password:"))

	var parsed signatureOutput
	if err := json.Unmarshal([]byte(text), &parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if !parsed.Recoverable {
		return nil, fmt.Errorf("%w: signature is not recoverable", ErrBadSignature)
	}
	signature, err := hex.DecodeString(strings.TrimPrefix(parsed.Signature, "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadSignature, err)
	}
	if len(signature) != ledger.SignatureSize {
		return nil, fmt.Errorf("%w: signature is %d bytes", ErrBadSignature, len(signature))
	}
	return signature, nil
}

func runCommand(ctx context.Context, name string, args []string, stdin []byte) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = bytes.NewReader(stdin)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s: %w: %s", name, err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
