package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"cfdi-descargas/internal/config"
	"cfdi-descargas/internal/sat"
)

// readPassword is replaced in tests.
var readPassword = term.ReadPassword

func checkFielCmd() *cobra.Command {
	var (
		certPath      string
		keyPath       string
		passwordStdin bool
		authenticate  bool
	)

	cmd := &cobra.Command{
		Use:   "check-fiel",
		Short: "Validate a FIEL certificate and key pair",
		Long: `Loads the certificate and the encrypted private key, checks that they
belong together and prints the holder RFC and validity window.

With --authenticate the FIEL is also used to obtain a token from the
configured SAT authentication endpoint.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cert, err := os.ReadFile(certPath)
			if err != nil {
				return fmt.Errorf("read certificate: %w", err)
			}
			key, err := os.ReadFile(keyPath)
			if err != nil {
				return fmt.Errorf("read key: %w", err)
			}

			password, err := promptPassword(cmd, passwordStdin)
			if err != nil {
				return err
			}

			fiel, err := sat.LoadFiel(cert, key, password)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "RFC:     %s\n", fiel.RFC())
			fmt.Fprintf(out, "Serie:   %s\n", fiel.SerialNumber())
			fmt.Fprintf(out, "Emisor:  %s\n", fiel.IssuerName())
			fmt.Fprintf(out, "Vence:   %s\n", fiel.NotAfter().Format(time.DateOnly))
			if err := fiel.ValidAt(time.Now()); err != nil {
				return err
			}

			if !authenticate {
				return nil
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			client := sat.NewClient(sat.Endpoints{Auth: cfg.SAT.AuthURL}, cfg.SATTimeout())
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.SATTimeout())
			defer cancel()
			if _, err := client.Authenticate(ctx, fiel); err != nil {
				return fmt.Errorf("authenticate: %w", err)
			}
			fmt.Fprintln(out, "Autenticación con el SAT correcta")
			return nil
		},
	}

	cmd.Flags().StringVar(&certPath, "cert", "", "path to the .cer file")
	cmd.Flags().StringVar(&keyPath, "key", "", "path to the .key file")
	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read the key password from stdin")
	cmd.Flags().BoolVar(&authenticate, "authenticate", false, "request a token from SAT with the FIEL")
	_ = cmd.MarkFlagRequired("cert")
	_ = cmd.MarkFlagRequired("key")

	return cmd
}

func promptPassword(cmd *cobra.Command, fromStdin bool) (string, error) {
	if fromStdin {
		line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		if err != nil && err != io.EOF {
			return "", fmt.Errorf("read password: %w", err)
		}
		return strings.TrimRight(line, "\r\n"), nil
	}

	fmt.Fprint(cmd.ErrOrStderr(), "Contraseña de la llave privada: ")
	password, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("read password: %w", err)
	}
	return string(password), nil
}
