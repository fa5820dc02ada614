package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/mailru/throw/internal/pkg/ds"
	"github.com/mailru/throw/pkg/throw"
	"github.com/mailru/throw/pkg/throw/config"
)

// ldflags
var (
	Version     string
	BuildTime   string
	BuildOS     string
	BuildCommit string
)

func getAppInfo() *ds.AppInfo {
	return ds.NewAppInfo("throwclient").
		WithVersion(Version).
		WithBuildTime(BuildTime).
		WithBuildOS(BuildOS).
		WithBuildCommit(BuildCommit)
}

func main() {
	var (
		host     = flag.String("host", "127.0.0.1", "server host")
		port     = flag.Int("port", 8000, "server port")
		command  = flag.String("command", "sample_command", "request command")
		image    = flag.String("image", "", "image file to send as encoded payload; identity matrix is sent when empty")
		size     = flag.Int("size", 4, "identity matrix size")
		repeat   = flag.Int("repeat", 1, "number of requests (0 for endless)")
		interval = flag.Duration("interval", time.Second, "pause between requests")
		save     = flag.String("save", "", "write the last response tensor to this image file")
		version  = flag.Bool("version", false, "print version")
	)

	clientConfig := config.ExportClientConfig(flag.CommandLine, "")

	flag.Parse()

	info := getAppInfo()

	if *version {
		fmt.Println(info)
		os.Exit(0)
	}

	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})

	cc, err := clientConfig()
	if err != nil {
		logrus.Fatalf("bad client config: %v", err)
	}

	cc.Logger = throw.DefaultLogger{Entry: logrus.WithFields(info.Fields())}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client, err := throw.Dial(ctx, *host, *port, cc)
	if err != nil {
		logrus.Fatalf("dial: %v", err)
	}
	defer client.Close()

	send := func() (string, *throw.Tensor, error) {
		return client.SendMessage(ctx, *command, identity(*size))
	}

	if *image != "" {
		encoded, err := os.ReadFile(*image)
		if err != nil {
			logrus.Fatalf("read image: %v", err)
		}

		send = func() (string, *throw.Tensor, error) {
			return client.SendImage(ctx, *command, encoded)
		}
	}

	var last *throw.Tensor

	for i := 0; *repeat == 0 || i < *repeat; i++ {
		if i > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(*interval):
			}
		}

		reply, t, err := send()
		if err != nil {
			logrus.Fatalf("request %d: %v", i, err)
		}

		last = t

		lo, hi := bounds(t)
		logrus.WithFields(logrus.Fields{
			"reply":  reply,
			"tensor": t.String(),
			"min":    lo,
			"max":    hi,
		}).Info("received")
	}

	if *save != "" && last != nil {
		if err := saveImage(*save, last); err != nil {
			logrus.Fatalf("save: %v", err)
		}
	}
}

func identity(n int) *throw.Tensor {
	t := throw.Zeros(throw.Float32, n, n, 1)
	for i := 0; i < n; i++ {
		t.Set(i, i, 0, 1)
	}

	return t
}

func bounds(t *throw.Tensor) (lo, hi float64) {
	if t == nil || t.Len() == 0 {
		return 0, 0
	}

	h, w, d := t.Shape()
	lo, hi = t.At(0, 0, 0), t.At(0, 0, 0)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			for c := 0; c < d; c++ {
				v := t.At(y, x, c)
				lo = min(lo, v)
				hi = max(hi, v)
			}
		}
	}

	return lo, hi
}

func saveImage(path string, t *throw.Tensor) error {
	if dt := t.DType(); dt != throw.Uint8 && dt != throw.Uint16 {
		t = t.Convert(throw.Uint8)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")

	data, err := throw.DefaultImageCodec.EncodeImage(t, format)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0o644)
}
