package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/davecgh/go-spew/spew"
	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"github.com/logrusorgru/aurora/v3"
	"github.com/mt-inside/http-log/pkg/output"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/mt-inside/tls-fetch/pkg/fetch"
	"github.com/mt-inside/tls-fetch/pkg/state"
)

/* TODO
* - take a flag to force v4/v6 candidates only
* - client certs, when a server that wants them shows up in anger
 */

func init() {
	spew.Config.DisableMethods = true
	spew.Config.DisablePointerMethods = true
}

func main() {

	cmd := &cobra.Command{
		Use:  "hostname port",
		Args: cobra.ExactArgs(2),
		Run:  appMain,
	}

	cmd.Flags().StringP("sni", "s", "", "SNI ServerName")
	cmd.Flags().StringP("host", "a", "", "HTTP Host header / name to verify certs against")
	cmd.Flags().StringP("path", "p", "/", "HTTP path to request")
	cmd.Flags().StringP("ca", "C", "", "Path to TLS server CA file (default: system store)")
	cmd.Flags().BoolP("no-verify", "k", false, "Don't fail on certificate validation errors (discouraged)")
	cmd.Flags().StringP("min-version", "m", "1.2", "Minimum TLS version to accept (1.0-1.3)")
	cmd.Flags().BoolP("dnssec", "d", false, "Validate DNSSEC on the name (information only)")
	cmd.Flags().BoolP("print-meta", "P", false, "Print connection metadata after the response")
	cmd.Flags().DurationP("timeout", "t", 0, "Timeout for resolve and connect; 0 blocks forever")
	cmd.Flags().BoolP("debug", "v", false, "Verbose internal logging")
	err := viper.BindPFlags(cmd.Flags())
	if err != nil {
		panic(errors.New("Can't set up flags"))
	}

	err = cmd.Execute()
	if err != nil {
		fmt.Println("Error during execution:", err)
	}
}

func appMain(cmd *cobra.Command, args []string) {

	s := output.NewTtyStyler(aurora.NewAurora(true))
	b := output.NewTtyBios(s)

	log := logr.Discard()
	if viper.GetBool("debug") {
		zl, err := zap.NewDevelopment()
		b.CheckErr(err)
		log = zapr.NewLogger(zl)
	}

	requestData := state.RequestDataFromViper(s, b, args[0], args[1])
	responseData := state.NewResponseData()

	if requestData.Timeout == 0 {
		// The blocking design means a stalled peer blocks us forever. Known
		// limitation; use --timeout if that bothers you.
		b.PrintInfo("no timeout set; a stalled peer will block indefinitely")
	}

	trail := fetch.Fetch(s, b, log, requestData, responseData, os.Stdout)

	if requestData.PrintMeta {
		responseData.Print(s, b, requestData)
	}
	if requestData.Debug {
		spew.Dump(responseData)
	}

	if trail.Failed() {
		b.Banner("Errors")
		trail.Dump(s, b)
		os.Exit(1)
	}

	fmt.Println()

	os.Exit(0)
}
