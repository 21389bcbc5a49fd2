package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/docopt/docopt-go"

	"github.com/joho/godotenv"

	"github.com/ItsKillionaire/Our-Canvas/canvas"
)

const CanvasCtlVersion = "0.0.1"

const DefaultApiUrl = "https://api.ourcanvas.app"
const DefaultConnectUrl = "wss://connect.ourcanvas.app"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := fmt.Sprintf(
		`Our Canvas control.

The default urls are:
    api_url: %s
    connect_url: %s

Urls can also be set with OURCANVAS_API_URL and OURCANVAS_CONNECT_URL,
read from the environment or a .env file.

Usage:
    canvasctl sign-in [--api_url=<api_url>]
    canvasctl whoami --jwt=<jwt>
    canvasctl create-pairing --jwt=<jwt> [--api_url=<api_url>]
    canvasctl join-pairing --jwt=<jwt> <pairing_id> [--api_url=<api_url>]
    canvasctl mood --jwt=<jwt> <mood> [--api_url=<api_url>]
    canvasctl leave --jwt=<jwt> [--api_url=<api_url>]
    canvasctl draw --jwt=<jwt> --pairing=<pairing_id>
        [--color=<color>] [--width=<width>]
        [--api_url=<api_url>] [--connect_url=<connect_url>]
    canvasctl watch --jwt=<jwt> --pairing=<pairing_id>
        [--api_url=<api_url>] [--connect_url=<connect_url>]

Options:
    -h --help                Show this screen.
    --version                Show version.
    --api_url=<api_url>
    --connect_url=<connect_url>
    --jwt=<jwt>              Your canvas JWT.
    --pairing=<pairing_id>   Pairing id of the shared canvas.
    --color=<color>          Packed argb stroke color as hex, e.g. ffff0000.
    --width=<width>          Stroke width.`,
		DefaultApiUrl,
		DefaultConnectUrl,
	)

	// glog is silent to files by default. Route it to stderr.
	flag.Set("logtostderr", "true")

	godotenv.Load()

	opts, err := docopt.ParseArgs(usage, os.Args[1:], CanvasCtlVersion)
	if err != nil {
		panic(err)
	}

	if signIn_, _ := opts.Bool("sign-in"); signIn_ {
		signIn(opts)
	} else if whoami_, _ := opts.Bool("whoami"); whoami_ {
		whoami(opts)
	} else if createPairing_, _ := opts.Bool("create-pairing"); createPairing_ {
		createPairing(opts)
	} else if joinPairing_, _ := opts.Bool("join-pairing"); joinPairing_ {
		joinPairing(opts)
	} else if mood_, _ := opts.Bool("mood"); mood_ {
		mood(opts)
	} else if leave_, _ := opts.Bool("leave"); leave_ {
		leave(opts)
	} else if draw_, _ := opts.Bool("draw"); draw_ {
		draw(opts)
	} else if watch_, _ := opts.Bool("watch"); watch_ {
		watch(opts)
	}
}

func newApi(opts docopt.Opts) *canvas.OurCanvasApi {
	apiUrl, err := opts.String("--api_url")
	if err != nil || apiUrl == "" {
		apiUrl = os.Getenv("OURCANVAS_API_URL")
	}
	if apiUrl == "" {
		apiUrl = DefaultApiUrl
	}
	connectUrl, err := opts.String("--connect_url")
	if err != nil || connectUrl == "" {
		connectUrl = os.Getenv("OURCANVAS_CONNECT_URL")
	}
	if connectUrl == "" {
		connectUrl = DefaultConnectUrl
	}

	api := canvas.NewOurCanvasApi(apiUrl, connectUrl)
	if byJwt, err := opts.String("--jwt"); err == nil && byJwt != "" {
		if err := api.SetByJwt(byJwt); err != nil {
			Err.Fatalf("Invalid jwt: %s", err)
		}
	}
	return api
}

func requireUid(opts docopt.Opts) string {
	byJwt, _ := opts.String("--jwt")
	uid, err := canvas.UidFromByJwt(byJwt)
	if err != nil {
		Err.Fatalf("Invalid jwt: %s", err)
	}
	return uid
}

func signIn(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()

	uid, err := api.SignInAnonymously(context.Background())
	if err != nil {
		Err.Fatalf("Sign in failed: %s", err)
	}
	Out.Printf("uid: %s", uid)
	Out.Printf("jwt: %s", api.ByJwt())
}

func whoami(opts docopt.Opts) {
	byJwt, _ := opts.String("--jwt")
	uid, err := canvas.UidFromByJwt(byJwt)
	if err != nil {
		Err.Fatalf("Invalid jwt: %s", err)
	}
	Out.Printf("%s", uid)
}

func createPairing(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()
	uid := requireUid(opts)

	pairingId, err := api.CreatePairing(context.Background(), uid)
	if err != nil {
		Err.Fatalf("Create pairing failed: %s", err)
	}
	Out.Printf("%s", pairingId)
}

func joinPairing(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()
	uid := requireUid(opts)
	pairingId, _ := opts.String("<pairing_id>")

	if err := api.JoinPairing(context.Background(), uid, pairingId); err != nil {
		Err.Fatalf("Join pairing failed: %s", err)
	}
	Out.Printf("joined %s", pairingId)
}

func mood(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()
	uid := requireUid(opts)
	moodGlyph, _ := opts.String("<mood>")

	if err := api.UpdateMood(context.Background(), uid, moodGlyph); err != nil {
		Err.Fatalf("Update mood failed: %s", err)
	}
}

func leave(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()
	uid := requireUid(opts)

	if err := api.LeavePairing(context.Background(), uid); err != nil {
		Err.Fatalf("Leave pairing failed: %s", err)
	}
}

func newSession(ctx context.Context, api *canvas.OurCanvasApi, opts docopt.Opts) *canvas.CanvasSession {
	uid := requireUid(opts)
	pairingId, _ := opts.String("--pairing")
	return canvas.NewCanvasSessionWithDefaults(ctx, uid, pairingId, api, api, api, api)
}

// draw reads one stroke per stdin line, points as "x,y x,y x,y"
func draw(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := newSession(ctx, api, opts)
	defer session.Close()

	if colorHex, err := opts.String("--color"); err == nil && colorHex != "" {
		packed, err := strconv.ParseUint(colorHex, 16, 32)
		if err != nil {
			Err.Fatalf("Invalid color: %s", err)
		}
		session.SelectColor(canvas.Color(packed))
	}
	if width, err := opts.String("--width"); err == nil && width != "" {
		strokeWidth, err := strconv.ParseFloat(width, 32)
		if err != nil {
			Err.Fatalf("Invalid width: %s", err)
		}
		session.SelectStrokeWidth(float32(strokeWidth))
	}

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		points, err := parsePoints(scanner.Text())
		if err != nil {
			Err.Printf("Skipping stroke: %s", err)
			continue
		}
		session.SubmitStroke(points)
		if state := session.State(); state.Error != "" {
			Err.Printf("%s", state.Error)
			session.ClearError()
		}
	}
}

func parsePoints(line string) ([]canvas.Point, error) {
	points := []canvas.Point{}
	for _, part := range strings.Fields(line) {
		xy := strings.SplitN(part, ",", 2)
		if len(xy) != 2 {
			return nil, fmt.Errorf("bad point %q", part)
		}
		x, err := strconv.ParseFloat(xy[0], 32)
		if err != nil {
			return nil, err
		}
		y, err := strconv.ParseFloat(xy[1], 32)
		if err != nil {
			return nil, err
		}
		points = append(points, canvas.Point{X: float32(x), Y: float32(y)})
	}
	return points, nil
}

func watch(opts docopt.Opts) {
	api := newApi(opts)
	defer api.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	session := newSession(ctx, api, opts)
	defer session.Close()

	removeCallback := session.AddStateChangeCallback(func(state *canvas.CanvasState) {
		partnerMood := ""
		if state.PartnerUser != nil {
			partnerMood = state.PartnerUser.Mood
		}
		Out.Printf(
			"strokes=%d undone=%d texts=%d partner=%s loading=%t error=%q",
			len(state.Strokes),
			len(state.UndoneStrokes),
			len(state.TextObjects),
			partnerMood,
			state.IsLoading,
			state.Error,
		)
	})
	defer removeCallback()

	<-ctx.Done()
}
