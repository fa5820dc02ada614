package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
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
	return ds.NewAppInfo("throwserver").
		WithVersion(Version).
		WithBuildTime(BuildTime).
		WithBuildOS(BuildOS).
		WithBuildCommit(BuildCommit)
}

func initLogger(level string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return err
	}

	logrus.SetLevel(lvl)
	logrus.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: time.DateTime,
	})

	return nil
}

// shift replies "ok" with every element of the request increased by 0.1.
func shift(_ context.Context, _ throw.Header, t *throw.Tensor) (string, *throw.Tensor) {
	if t == nil {
		return "ok", nil
	}

	return "ok", t.Convert(throw.Float64).Map(func(v float64) float64 { return v + 0.1 })
}

// throwFlagsSet returns names of throw.* flags given on the command line.
func throwFlagsSet(fs *flag.FlagSet) []string {
	var ret []string

	fs.Visit(func(f *flag.Flag) {
		if strings.HasPrefix(f.Name, "throw.") {
			ret = append(ret, "-"+f.Name)
		}
	})

	return ret
}

func main() {
	var (
		host       = flag.String("host", "0.0.0.0", "listen host")
		port       = flag.Int("port", 8000, "listen port")
		configPath = flag.String("config", "", "path to yaml config; when set, throw.* settings are read from its server section and throw.* flags are ignored")
		logLevel   = flag.String("log-level", "info", "log level")
		version    = flag.Bool("version", false, "print version")
		shutdown   = flag.Duration("shutdown-timeout", 5*time.Second, "graceful shutdown timeout")
	)

	log := throw.DefaultLogger{}
	handlerWrapper := config.ExportServerHandler(flag.CommandLine, "", log)
	sessionConfig := config.ExportSessionConfigWithHandler(flag.CommandLine, "", handlerWrapper)

	flag.Parse()

	info := getAppInfo()

	if *version {
		fmt.Println(info)
		os.Exit(0)
	}

	if err := initLogger(*logLevel); err != nil {
		logrus.Fatalf("bad log level: %v", err)
	}

	if *configPath != "" {
		if ignored := throwFlagsSet(flag.CommandLine); len(ignored) != 0 {
			logrus.Warnf("flags %s are ignored: settings come from %s", strings.Join(ignored, ", "), *configPath)
		}

		values, err := config.LoadFile(*configPath)
		if err != nil {
			logrus.Fatalf("error load config: %v", err)
		}

		handlerWrapper = config.ExportServerHandler(values, "server", log)
		sessionConfig = config.ExportSessionConfigWithHandler(values, "server", handlerWrapper)

		if err := values.Err(); err != nil {
			logrus.Fatalf("error load config: %v", err)
		}
	}

	mux := throw.NewServeMux()
	mux.Fallback = throw.HandlerFunc(shift)

	sc, err := sessionConfig(mux)
	if err != nil {
		logrus.Fatalf("bad session config: %v", err)
	}

	sc.Logger = throw.DefaultLogger{Entry: logrus.WithFields(info.Fields())}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := &throw.Server{
		SessionConfig: sc,
		Log:           sc.Logger,
	}

	srv.Manager = throw.NewSessionManager()
	srv.Manager.OnClose = append(srv.Manager.OnClose, func(s *throw.Session) {
		st := s.Stats()
		logrus.WithFields(logrus.Fields{
			"session":  s.ID(),
			"remote":   s.RemoteAddr().String(),
			"received": st.MessagesReceived,
			"sent":     st.MessagesSent,
			"err":      s.Err(),
		}).Info("session closed")
	})

	logrus.WithFields(info.Fields()).Infof("listening on %s:%d", *host, *port)

	err = srv.ListenAndServe(ctx, *host, *port)
	if err != nil && !errors.Is(err, throw.ErrServerClosed) && ctx.Err() == nil {
		logrus.Fatalf("serve error: %v", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), *shutdown)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		logrus.Errorf("shutdown: %v", err)
	}

	logrus.Infof("served for %s", info.Uptime().Round(time.Second))
}
