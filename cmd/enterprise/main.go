package main

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/cloq-dev/cloq/api/artifacthandler"
	"github.com/cloq-dev/cloq/cmd/flags"
	"github.com/cloq-dev/cloq/cryptoutils"
	"github.com/cloq-dev/cloq/envelope"
	"github.com/cloq-dev/cloq/interfaces"
	"github.com/cloq-dev/cloq/sealer"
	"github.com/urfave/cli/v2"
)

var flagArtifactID = &cli.StringFlag{
	Name:     "artifact-id",
	Required: true,
	Usage:    "artifact id assigned by the control plane",
}

var flagPrivkey = &cli.StringFlag{
	Name:  "privkey",
	Usage: "enterprise private key (PEM, optionally passphrase protected)",
}

var flagDest = &cli.StringFlag{
	Name:  "dest",
	Usage: "directory to unseal into; created if missing, existing files are never replaced",
}

var flagOut = &cli.StringFlag{
	Name:  "out",
	Usage: "path to save the raw envelope to",
}

var flagEnvelope = &cli.StringFlag{
	Name:     "envelope",
	Required: true,
	Usage:    "envelope file",
}

var flagShares = &cli.IntFlag{
	Name:  "shares",
	Value: 5,
	Usage: "number of key shares to create",
}

var flagThreshold = &cli.IntFlag{
	Name:  "threshold",
	Value: 3,
	Usage: "number of shares required to reconstruct the key",
}

var flagOutDir = &cli.StringFlag{
	Name:     "out-dir",
	Required: true,
	Usage:    "directory to write key shares into",
}

var flagShare = &cli.StringSliceFlag{
	Name:     "share",
	Required: true,
	Usage:    "key share file; repeat for each share",
}

var flagVendorID = &cli.StringFlag{
	Name:  "vendor-id",
	Usage: "only list artifacts of this vendor",
}

// artifactSummary is the validate output. It never includes file contents.
type artifactSummary struct {
	Header  *envelope.Header `json:"header"`
	Files   int              `json:"files"`
	Dirs    int              `json:"dirs"`
	Bytes   int64            `json:"bytes"`
	Entries []string         `json:"entries"`
}

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "cloq-enterprise",
		Usage: "Download, verify and unseal artifacts sealed for this enterprise",
		Flags: append([]cli.Flag{
			flags.LogServiceFlagFn("cloq-enterprise"),
		}, flags.LogFlags...),
		Commands: []*cli.Command{
			{
				Name:  "download",
				Usage: "download an artifact and unseal it into --dest, or save the envelope to --out",
				Flags: []cli.Flag{
					flags.ControlPlaneURLFlag,
					flagArtifactID,
					flagPrivkey,
					flagDest,
					flagOut,
					flags.PassphraseEnvFlag,
				},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					dest := cCtx.String(flagDest.Name)
					out := cCtx.String(flagOut.Name)
					if (dest == "") == (out == "") {
						return fmt.Errorf("exactly one of --%s or --%s is required", flagDest.Name, flagOut.Name)
					}
					if dest != "" && cCtx.String(flagPrivkey.Name) == "" {
						return fmt.Errorf("--%s is required to unseal", flagPrivkey.Name)
					}

					id, err := interfaces.ParseArtifactID(cCtx.String(flagArtifactID.Name))
					if err != nil {
						return err
					}

					// Load the key first so a bad passphrase fails before the transfer.
					var priv *rsa.PrivateKey
					if dest != "" {
						priv, err = loadPrivateKey(cCtx)
						if err != nil {
							return err
						}
					}

					client := artifacthandler.NewClient(cCtx.String(flags.ControlPlaneURLFlag.Name), logger)
					envelopeBytes, err := client.Download(cCtx.Context, id)
					if err != nil {
						return err
					}
					logger.Info("Downloaded artifact", "artifactId", id.String(), "size", len(envelopeBytes))

					if out != "" {
						if err := writeNewFile(out, envelopeBytes); err != nil {
							return err
						}
						fmt.Fprintln(cCtx.App.Writer, out)
						return nil
					}

					if err := sealer.New(rand.Reader, logger).Unseal(envelopeBytes, priv, dest); err != nil {
						return err
					}
					fmt.Fprintln(cCtx.App.Writer, dest)
					return nil
				},
			},
			{
				Name:  "unseal",
				Usage: "unseal a local envelope file into --dest",
				Flags: []cli.Flag{
					flagEnvelope,
					requiredFlag(flagPrivkey),
					requiredFlag(flagDest),
					flags.PassphraseEnvFlag,
				},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					priv, err := loadPrivateKey(cCtx)
					if err != nil {
						return err
					}
					envelopeBytes, err := os.ReadFile(cCtx.String(flagEnvelope.Name))
					if err != nil {
						return err
					}

					dest := cCtx.String(flagDest.Name)
					if err := sealer.New(rand.Reader, logger).Unseal(envelopeBytes, priv, dest); err != nil {
						return err
					}
					logger.Info("Unsealed artifact", "dest", dest)
					fmt.Fprintln(cCtx.App.Writer, dest)
					return nil
				},
			},
			{
				Name:  "validate",
				Usage: "decrypt and verify an envelope without writing anything",
				Flags: []cli.Flag{
					flagEnvelope,
					requiredFlag(flagPrivkey),
					flags.PassphraseEnvFlag,
				},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					priv, err := loadPrivateKey(cCtx)
					if err != nil {
						return err
					}
					envelopeBytes, err := os.ReadFile(cCtx.String(flagEnvelope.Name))
					if err != nil {
						return err
					}

					entries, _, err := sealer.New(rand.Reader, logger).Verify(envelopeBytes, priv)
					if err != nil {
						return err
					}
					header, err := envelope.PeekHeader(envelopeBytes)
					if err != nil {
						return err
					}

					summary := artifactSummary{Header: header, Entries: make([]string, 0, len(entries))}
					for _, entry := range entries {
						summary.Entries = append(summary.Entries, entry.Path)
						if entry.Dir {
							summary.Dirs++
							continue
						}
						summary.Files++
						summary.Bytes += entry.Size
					}
					return printJSON(cCtx.App.Writer, summary)
				},
			},
			{
				Name:  "inspect",
				Usage: "print the plaintext envelope header; no key is needed",
				Flags: []cli.Flag{flagEnvelope},
				Action: func(cCtx *cli.Context) error {
					envelopeBytes, err := os.ReadFile(cCtx.String(flagEnvelope.Name))
					if err != nil {
						return err
					}
					header, err := envelope.PeekHeader(envelopeBytes)
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, header)
				},
			},
			{
				Name:  "list",
				Usage: "list artifacts held by the control plane as JSON",
				Flags: []cli.Flag{flags.ControlPlaneURLFlag, flagVendorID},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					client := artifacthandler.NewClient(cCtx.String(flags.ControlPlaneURLFlag.Name), logger)
					records, err := client.List(cCtx.Context, cCtx.String(flagVendorID.Name))
					if err != nil {
						return err
					}
					return printJSON(cCtx.App.Writer, records)
				},
			},
			{
				Name:  "split-key",
				Usage: "split the enterprise private key into Shamir shares for escrow",
				Flags: []cli.Flag{
					requiredFlag(flagPrivkey),
					flagShares,
					flagThreshold,
					flagOutDir,
					flags.PassphraseEnvFlag,
				},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					key, err := flags.LoadPrivkey(cCtx, cCtx.String(flagPrivkey.Name))
					if err != nil {
						return err
					}
					shares, err := cryptoutils.SplitPrivkey(key, cCtx.Int(flagShares.Name), cCtx.Int(flagThreshold.Name))
					if err != nil {
						return err
					}

					outDir := cCtx.String(flagOutDir.Name)
					if err := os.MkdirAll(outDir, 0o700); err != nil {
						return err
					}
					for i, share := range shares {
						path := filepath.Join(outDir, fmt.Sprintf("share-%d.pem", i+1))
						if err := writeNewFile(path, share); err != nil {
							return err
						}
						fmt.Fprintln(cCtx.App.Writer, path)
					}

					logger.Info("Split enterprise key",
						"shares", len(shares),
						"threshold", cCtx.Int(flagThreshold.Name))
					return nil
				},
			},
			{
				Name:  "combine-key",
				Usage: "reconstruct the enterprise private key from Shamir shares",
				Flags: []cli.Flag{
					flagShare,
					requiredFlag(flagOut),
					flags.PassphraseEnvFlag,
				},
				Action: func(cCtx *cli.Context) error {
					logger := flags.SetupLogger(cCtx)

					var shares [][]byte
					for _, path := range cCtx.StringSlice(flagShare.Name) {
						share, err := os.ReadFile(path)
						if err != nil {
							return err
						}
						shares = append(shares, share)
					}

					key, err := cryptoutils.CombinePrivkey(shares)
					if err != nil {
						return err
					}

					passphrase, err := flags.Passphrase(cCtx)
					if err != nil {
						return err
					}
					if passphrase != nil {
						key, err = cryptoutils.EncryptPrivkey(rand.Reader, key, passphrase, cryptoutils.DefaultKDFParams)
						if err != nil {
							return err
						}
					}

					out := cCtx.String(flagOut.Name)
					if err := writeNewFile(out, key); err != nil {
						return err
					}
					logger.Info("Reconstructed enterprise key", "shares", len(shares), "encrypted", passphrase != nil)
					fmt.Fprintln(cCtx.App.Writer, out)
					return nil
				},
			},
		},
	}
}

func requiredFlag(f *cli.StringFlag) *cli.StringFlag {
	required := *f
	required.Required = true
	return &required
}

func loadPrivateKey(cCtx *cli.Context) (*rsa.PrivateKey, error) {
	key, err := flags.LoadPrivkey(cCtx, cCtx.String(flagPrivkey.Name))
	if err != nil {
		return nil, err
	}
	return key.PrivateKey()
}

func printJSON(w io.Writer, v any) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(v)
}

// writeNewFile creates path with owner-only permissions and refuses to
// replace an existing file.
func writeNewFile(path string, data []byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}
