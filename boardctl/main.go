package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/docopt/docopt-go"

	"github.com/traceboard/board/board"
)

const Version = "0.1.0"

const DefaultPort = 8080

func main() {
	usage := fmt.Sprintf(
		`Traceboard room relay and tools.

Usage:
    boardctl relay [--port=<port>] [--secret=<secret>]
    boardctl token --room=<room> [--name=<name>] [--secret=<secret>]
    boardctl inspect --cache=<cache> --room=<room>

Options:
    -h --help            Show this screen.
    --version            Show version.
    -p --port=<port>     Listen port [default: %d].
    --secret=<secret>    HMAC secret for room tokens.
    --room=<room>        Room id.
    --name=<name>        Display name for the minted token [default: anonymous].
    --cache=<cache>      Path to a room cache file.`,
		DefaultPort,
	)

	opts, err := docopt.ParseArgs(usage, os.Args[1:], Version)
	if err != nil {
		panic(err)
	}

	if relay_, _ := opts.Bool("relay"); relay_ {
		relay(opts)
	} else if token_, _ := opts.Bool("token"); token_ {
		token(opts)
	} else if inspect_, _ := opts.Bool("inspect"); inspect_ {
		inspect(opts)
	}
}

func relay(opts docopt.Opts) {
	port, _ := opts.Int("--port")

	settings := board.DefaultRelaySettings()
	if secretAny := opts["--secret"]; secretAny != nil {
		settings.TokenSecret = []byte(secretAny.(string))
	}

	relay := board.NewRelay(settings)

	fmt.Printf("relay %s on *:%d\n", Version, port)
	err := http.ListenAndServe(fmt.Sprintf(":%d", port), relay.Router())
	if err != nil {
		fmt.Printf("relay error: %s\n", err)
		os.Exit(1)
	}
}

func token(opts docopt.Opts) {
	roomId, _ := opts.String("--room")
	name, _ := opts.String("--name")

	var secret []byte
	if secretAny := opts["--secret"]; secretAny != nil {
		secret = []byte(secretAny.(string))
	}

	peerId := board.NewId()
	roomToken, err := board.MintRoomToken(secret, peerId, roomId, name)
	if err != nil {
		fmt.Printf("token error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("peer_id: %s\n", peerId)
	fmt.Printf("token: %s\n", roomToken)
}

func inspect(opts docopt.Opts) {
	cachePath, _ := opts.String("--cache")
	roomId, _ := opts.String("--room")

	cache, err := board.OpenRoomCache(cachePath, roomId)
	if err != nil {
		fmt.Printf("inspect error: %s\n", err)
		os.Exit(1)
	}
	defer cache.Close()

	state, err := cache.Load()
	if err != nil {
		fmt.Printf("inspect error: %s\n", err)
		os.Exit(1)
	}

	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		fmt.Printf("inspect error: %s\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s\n", out)
}
