// Command weatherctl is a terminal client for the weather-reporter API.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-reporter/internal/apperr"
	"github.com/kjstillabower/weather-reporter/internal/location"
	"github.com/kjstillabower/weather-reporter/internal/webclient"
)

const usage = `usage: weatherctl [global flags] <command> [flags]

commands:
  weather  -city NAME                      current conditions
  register -username U -email E -password P
  verify   -token T
  login    -id EMAIL_OR_USERNAME -password P
  resend   -email E
  profile                                  show the logged-in profile
  locate   [-lat N -lon N -consent]        reconcile the saved location with a fix

global flags:
`

type app struct {
	client    *webclient.Client
	tokenFile string
	out       io.Writer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := run(ctx, os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", describe(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := flag.NewFlagSet("weatherctl", flag.ContinueOnError)
	global.SetOutput(stderr)
	global.Usage = func() {
		fmt.Fprint(stderr, usage)
		global.PrintDefaults()
	}
	baseURL := global.String("api", envOr("WEATHER_API_URL", "http://localhost:8080"), "backend base URL")
	tokenFile := global.String("token-file", defaultTokenFile(), "where the session token is kept")
	weatherTTL := global.Duration("weather-ttl", webclient.DefaultWeatherTTL, "client-side weather cache TTL")
	timeout := global.Duration("timeout", 10*time.Second, "request timeout")
	verbose := global.Bool("v", false, "debug logging")
	if err := global.Parse(args); err != nil {
		return err
	}
	if global.NArg() == 0 {
		global.Usage()
		return errors.New("missing command")
	}

	logger := zap.NewNop()
	if *verbose {
		l, err := zap.NewDevelopment()
		if err == nil {
			logger = l
		}
	}

	a := &app{
		client: webclient.New(webclient.Config{
			BaseURL:    *baseURL,
			Timeout:    *timeout,
			WeatherTTL: *weatherTTL,
			Logger:     logger,
		}),
		tokenFile: *tokenFile,
		out:       stdout,
	}
	a.loadToken()

	cmd, rest := global.Arg(0), global.Args()[1:]
	switch cmd {
	case "weather":
		return a.weather(ctx, rest)
	case "register":
		return a.register(ctx, rest)
	case "verify":
		return a.verify(ctx, rest)
	case "login":
		return a.login(ctx, rest)
	case "resend":
		return a.resend(ctx, rest)
	case "profile":
		return a.profile(ctx, rest)
	case "locate":
		return a.locate(ctx, rest)
	default:
		global.Usage()
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func (a *app) weather(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("weather", flag.ContinueOnError)
	city := fs.String("city", "", "city name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *city == "" && fs.NArg() > 0 {
		*city = strings.Join(fs.Args(), " ")
	}
	w, err := a.client.Weather(ctx, *city)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s: %.1f°C, %s\n", w.Location, w.Temperature, w.Condition)
	fmt.Fprintf(a.out, "  humidity %d%%  wind %.1f km/h  UV %.1f\n", w.Humidity, w.WindSpeed, w.UVIndex)
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	username := fs.String("username", "", "username")
	email := fs.String("email", "", "email address")
	password := fs.String("password", os.Getenv("WEATHERCTL_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	msg, err := a.client.Register(ctx, *username, *email, *password)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *app) verify(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("verify", flag.ContinueOnError)
	token := fs.String("token", "", "token from the verification link")
	if err := fs.Parse(args); err != nil {
		return err
	}
	msg, err := a.client.Verify(ctx, *token)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *app) login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	id := fs.String("id", "", "email or username")
	password := fs.String("password", os.Getenv("WEATHERCTL_PASSWORD"), "password")
	if err := fs.Parse(args); err != nil {
		return err
	}
	res, err := a.client.Login(ctx, *id, *password)
	if err != nil {
		return err
	}
	if err := a.saveToken(res.Token); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (%s)\n", res.Message, res.User.Username)
	return nil
}

func (a *app) resend(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("resend", flag.ContinueOnError)
	email := fs.String("email", "", "email address")
	if err := fs.Parse(args); err != nil {
		return err
	}
	msg, err := a.client.ResendVerification(ctx, *email)
	if err != nil {
		return err
	}
	fmt.Fprintln(a.out, msg)
	return nil
}

func (a *app) profile(ctx context.Context, args []string) error {
	if a.client.Token() == "" {
		return errors.New("not logged in; run weatherctl login first")
	}
	p, err := a.client.Profile(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s <%s> verified=%v\n", p.Username, p.Email, p.IsVerified)
	if p.Location != nil {
		fmt.Fprintf(a.out, "  location %.5f, %.5f (updated %s)\n",
			p.Location.Latitude, p.Location.Longitude, p.Location.LastLocationUpdate.Format(time.RFC3339))
	}
	return nil
}

func (a *app) locate(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("locate", flag.ContinueOnError)
	lat := fs.Float64("lat", 0, "current latitude")
	lon := fs.Float64("lon", 0, "current longitude")
	consent := fs.Bool("consent", false, "allow the position to be used and saved")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.client.Token() == "" {
		return errors.New("not logged in; run weatherctl login first")
	}

	opts := []location.Option{location.WithPlaces(a.client)}
	if isSet(fs, "lat") && isSet(fs, "lon") {
		opts = append(opts, location.WithGeolocator(location.StaticGeolocator{Latitude: *lat, Longitude: *lon}, *consent))
	}
	st, err := location.NewReconciler(a.client, opts...).Reconcile(ctx)
	if err != nil {
		return err
	}

	switch st.State {
	case location.Absent:
		fmt.Fprintln(a.out, "no location saved")
		return nil
	default:
		fmt.Fprintf(a.out, "%s location %.5f, %.5f\n", st.State, st.Location.Latitude, st.Location.Longitude)
	}
	if st.MovedMeters > 0 {
		fmt.Fprintf(a.out, "  moved %.0f m since last update\n", st.MovedMeters)
	}
	if st.Place != nil {
		fmt.Fprintf(a.out, "  %s\n", st.Place.DisplayName)
	}
	return nil
}

func (a *app) loadToken() {
	data, err := os.ReadFile(a.tokenFile)
	if err != nil {
		return
	}
	a.client.SetToken(strings.TrimSpace(string(data)))
}

func (a *app) saveToken(token string) error {
	if err := os.MkdirAll(filepath.Dir(a.tokenFile), 0o700); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	if err := os.WriteFile(a.tokenFile, []byte(token+"\n"), 0o600); err != nil {
		return fmt.Errorf("save token: %w", err)
	}
	return nil
}

// describe prefers the server's client-safe message and adds the retry hint when present.
func describe(err error) string {
	appErr, ok := apperr.As(err)
	if !ok {
		return err.Error()
	}
	if appErr.RetryAfter > 0 {
		return fmt.Sprintf("%s (retry in %s)", appErr.Message, appErr.RetryAfter.Round(time.Second))
	}
	return appErr.Message
}

func isSet(fs *flag.FlagSet, name string) bool {
	found := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			found = true
		}
	})
	return found
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".weatherctl-token"
	}
	return filepath.Join(dir, "weatherctl", "token")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
