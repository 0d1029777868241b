// Command netchat is a command-line client for a netchatd server: it sends
// private messages, transfers files and runs peer-to-peer video calls.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/opd-ai/netchat/av"
	"github.com/opd-ai/netchat/control"
	"github.com/opd-ai/netchat/file"
	"github.com/opd-ai/netchat/transport"
	"github.com/sirupsen/logrus"
	"gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("netchat", "netchat command-line client.")

	host     = app.Flag("host", "Server host name or address.").Short('H').Envar("NETCHAT_HOST").Default("127.0.0.1").String()
	name     = app.Flag("name", "Display name announced to the server.").Short('n').Envar("NETCHAT_NAME").Default(defaultName()).String()
	timeout  = app.Flag("timeout", "Timeout for one request.").Default("30s").Duration()
	verbose  = app.Flag("verbose", "Enable debug logging.").Short('v').Bool()
	ctlPort  = app.Flag("control-port", "Control channel port.").Default("6000").Int()
	filePort = app.Flag("file-port", "File transfer port.").Default("5001").Int()
	proxyURL = app.Flag("proxy", "Reach the server through a proxy, socks5://host:port or http://host:port.").Envar("NETCHAT_PROXY").String()

	pmCmd    = app.Command("pm", "Send a private message.")
	pmTarget = pmCmd.Arg("target", "Recipient display name.").Required().String()
	pmText   = pmCmd.Arg("text", "Message text.").Required().String()

	uploadCmd  = app.Command("upload", "Upload a local file.")
	uploadPath = uploadCmd.Arg("path", "Local file to upload.").Required().ExistingFile()

	listCmd = app.Command("list", "List files stored on the server.")

	downloadCmd  = app.Command("download", "Download a stored file.")
	downloadName = downloadCmd.Arg("name", "Stored file name.").Required().String()
	downloadOut  = downloadCmd.Flag("out", "Local destination path (defaults to the stored name).").Short('o').String()

	callCmd       = app.Command("call", "Run a video call using a synthetic test pattern camera.")
	callLocalPort = callCmd.Flag("local-port", "Local UDP port to receive on.").Required().Int()
	callRemote    = callCmd.Arg("remote", "Remote peer as host:port.").Required().String()
	callDuration  = callCmd.Flag("duration", "End the call after this long (0 runs until interrupted).").Default("0s").Duration()
)

func main() {
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	logrus.SetLevel(logrus.WarnLevel)
	if *verbose {
		logrus.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch command {
	case pmCmd.FullCommand():
		err = runPM(ctx)
	case uploadCmd.FullCommand():
		err = runUpload(ctx)
	case listCmd.FullCommand():
		err = runList(ctx)
	case downloadCmd.FullCommand():
		err = runDownload(ctx)
	case callCmd.FullCommand():
		err = runCall(ctx)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func defaultName() string {
	if hostname, err := os.Hostname(); err == nil && hostname != "" {
		return hostname
	}
	return "netchat"
}

func controlAddr() string {
	return net.JoinHostPort(*host, strconv.Itoa(*ctlPort))
}

func dialer() (transport.Dialer, error) {
	config, err := transport.ParseProxyURL(*proxyURL)
	if err != nil {
		return nil, err
	}
	return transport.NewDialer(config)
}

func fileClient() (*file.Client, error) {
	d, err := dialer()
	if err != nil {
		return nil, err
	}
	client := file.NewClient(net.JoinHostPort(*host, strconv.Itoa(*filePort)), *name)
	client.SetDialer(d)
	return client, nil
}

// runPM connects, waits for the first client list so the recipient can be
// checked, sends the message and quits.
func runPM(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	d, err := dialer()
	if err != nil {
		return err
	}
	client, err := control.DialVia(ctx, d, controlAddr(), *name)
	if err != nil {
		return err
	}
	defer client.Close()

	select {
	case ev, ok := <-client.Events():
		if !ok || ev.Type == control.EventDisconnected {
			return fmt.Errorf("server closed the connection")
		}
		if ev.Type == control.EventClientList && !contains(ev.Clients, *pmTarget) {
			fmt.Fprintf(os.Stderr, "warning: %s is not connected, the message will be dropped\n", *pmTarget)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := client.SendPrivate(*pmTarget, *pmText); err != nil {
		return err
	}
	return client.Quit()
}

func runUpload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client, err := fileClient()
	if err != nil {
		return err
	}
	if err := client.UploadFile(ctx, *uploadPath); err != nil {
		return err
	}
	fmt.Printf("uploaded %s\n", filepath.Base(*uploadPath))
	return nil
}

func runList(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client, err := fileClient()
	if err != nil {
		return err
	}
	entries, err := client.List(ctx)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tSIZE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%d\n", e.Name, e.Size)
	}
	return w.Flush()
}

func runDownload(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, *timeout)
	defer cancel()

	client, err := fileClient()
	if err != nil {
		return err
	}

	out := *downloadOut
	if out == "" {
		out = filepath.Base(*downloadName)
	}

	f, err := os.Create(out)
	if err != nil {
		return err
	}

	n, err := client.Download(ctx, *downloadName, f)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(out)
		return err
	}
	fmt.Printf("downloaded %s (%d bytes)\n", out, n)
	return nil
}

func runCall(ctx context.Context) error {
	remoteHost, portStr, err := net.SplitHostPort(*callRemote)
	if err != nil {
		return fmt.Errorf("remote address: %w", err)
	}
	remotePort, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("remote port: %w", err)
	}

	if *callDuration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, *callDuration)
		defer cancel()
	}

	camera := av.NewPatternCamera(av.DefaultWidth, av.DefaultHeight)
	endpoint := av.NewEndpoint(av.NewCallConfig(*callLocalPort, remoteHost, remotePort), camera)
	if err := endpoint.Start(); err != nil {
		return err
	}
	defer endpoint.Stop()

	fmt.Printf("call active on %s, sending to %s\n", endpoint.LocalAddr(), *callRemote)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	var local, remote int
	for {
		select {
		case f := <-endpoint.Frames():
			if f.Source == av.FrameRemote {
				remote++
			} else {
				local++
			}
		case <-ticker.C:
			stats := endpoint.Stats()
			fmt.Printf("frames/s local=%d remote=%d  sent=%d received=%d dropped=%d\n",
				local, remote, stats.FramesSent, stats.FramesReceived, stats.FramesDropped)
			local, remote = 0, 0
		case <-ctx.Done():
			return nil
		}
	}
}

func contains(names []string, target string) bool {
	for _, n := range names {
		if n == target {
			return true
		}
	}
	return false
}
