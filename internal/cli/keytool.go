package cli

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/dmitrijs2005/peerkeeper/internal/accounts"
	"github.com/dmitrijs2005/peerkeeper/internal/custody"
	"github.com/dmitrijs2005/peerkeeper/internal/models"
)

// ErrUsage is returned for an unknown command or bad arguments.
var ErrUsage = errors.New("usage")

const keytoolUsage = `usage: keytool <command> [arguments]

commands:
  new [-index N] <name>       create an identity from a fresh recovery phrase
  import [-index N] <name>    create an identity from an existing phrase
  list                        list local identities
  mnemonic <gid>              show the recovery phrase
  pin <gid>                   change the PIN
`

// Keytool manages local identities from the terminal.
type Keytool struct {
	accounts *accounts.Service
	reader   *bufio.Reader
	out      io.Writer

	newMnemonic func() (string, error)
}

func NewKeytool(svc *accounts.Service, in io.Reader, out io.Writer) *Keytool {
	return &Keytool{
		accounts:    svc,
		reader:      bufio.NewReader(in),
		out:         out,
		newMnemonic: custody.NewMnemonic,
	}
}

// Run executes one command.
func (k *Keytool) Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		fmt.Fprint(k.out, keytoolUsage)
		return ErrUsage
	}

	switch cmd, rest := args[0], args[1:]; cmd {
	case "new":
		return k.generate(ctx, rest, true)
	case "import":
		return k.generate(ctx, rest, false)
	case "list":
		return k.list(ctx)
	case "mnemonic":
		return k.mnemonic(ctx, rest)
	case "pin":
		return k.pin(ctx, rest)
	case "help":
		fmt.Fprint(k.out, keytoolUsage)
		return nil
	default:
		fmt.Fprint(k.out, keytoolUsage)
		return fmt.Errorf("unknown command %q: %w", cmd, ErrUsage)
	}
}

func (k *Keytool) generate(ctx context.Context, args []string, fresh bool) error {
	fs := flag.NewFlagSet("generate", flag.ContinueOnError)
	fs.SetOutput(k.out)
	index := fs.Uint("index", 0, "derivation index")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%v: %w", err, ErrUsage)
	}
	name := strings.Join(fs.Args(), " ")
	if name == "" {
		return fmt.Errorf("identity name missing: %w", ErrUsage)
	}

	var (
		phrase string
		err    error
	)
	if fresh {
		if phrase, err = k.newMnemonic(); err != nil {
			return err
		}
	} else if phrase, err = GetSimpleText(k.reader, "Recovery phrase", k.out); err != nil {
		return err
	}

	passphrase, err := GetPin(k.reader, "BIP-39 passphrase (empty for none)", k.out)
	if err != nil {
		return err
	}
	pin, err := GetNewPin(k.reader, k.out)
	if err != nil {
		return err
	}

	acc, _, err := k.accounts.Generate(ctx, custody.GenerateParams{
		Mnemonic:   phrase,
		Index:      uint32(*index),
		Lang:       models.LangEnglish,
		Passphrase: passphrase,
		Pin:        pin,
		Name:       name,
	})
	if err != nil {
		return err
	}

	if fresh {
		fmt.Fprintf(k.out, "Write down your recovery phrase:\n\n  %s\n\n", phrase)
	}
	fmt.Fprintf(k.out, "identity %s created\n", acc.GID)
	return nil
}

func (k *Keytool) list(ctx context.Context) error {
	list, err := k.accounts.List(ctx)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		fmt.Fprintln(k.out, "no identities")
		return nil
	}
	for _, a := range list {
		fmt.Fprintf(k.out, "%s\t%s\t%d\n", a.GID, a.Name, a.Index)
	}
	return nil
}

func (k *Keytool) mnemonic(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("identity missing: %w", ErrUsage)
	}
	pin, err := GetPin(k.reader, "PIN", k.out)
	if err != nil {
		return err
	}
	phrase, err := k.accounts.Mnemonic(ctx, args[0], pin)
	if err != nil {
		return err
	}
	fmt.Fprintln(k.out, phrase)
	return nil
}

func (k *Keytool) pin(ctx context.Context, args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("identity missing: %w", ErrUsage)
	}
	oldPin, err := GetPin(k.reader, "Current PIN", k.out)
	if err != nil {
		return err
	}
	newPin, err := GetNewPin(k.reader, k.out)
	if err != nil {
		return err
	}
	if err := k.accounts.ChangePin(ctx, args[0], oldPin, newPin); err != nil {
		return err
	}
	fmt.Fprintln(k.out, "PIN changed")
	return nil
}
