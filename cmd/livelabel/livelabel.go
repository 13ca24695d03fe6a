package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/cyclopcam/livelabel/pkg/nnload"
	"github.com/cyclopcam/livelabel/server"
	"github.com/cyclopcam/livelabel/server/camera"
	"github.com/cyclopcam/livelabel/server/configdb"
	"github.com/cyclopcam/logs"
)

func main() {
	// This is purely for documentation of the cmd-line args
	nominalDefaultDB := "$HOME/livelabel/config.sqlite"
	nominalDefaultModels := "$HOME/livelabel/models"
	nominalDefaultRecordings := "$HOME/livelabel/recordings"

	parser := argparse.NewParser("livelabel", "Label live camera frames with an image classifier")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Configuration database file", Default: nominalDefaultDB})
	device := parser.String("d", "device", &argparse.Options{Help: "Camera device index, video file, or stream URL", Default: "0"})
	nnModelName := parser.String("", "nn", &argparse.Options{Help: "Image classification model, or URL of an inference server", Default: "mobilenet_v2"})
	modelDir := parser.String("", "models", &argparse.Options{Help: "Directory of neural network models", Default: nominalDefaultModels})
	recordingDir := parser.String("", "recordings", &argparse.Options{Help: "Directory where recordings are saved", Default: nominalDefaultRecordings})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listening address", Default: ":8080"})
	logRequests := parser.Flag("", "logrequests", &argparse.Options{Help: "Log every HTTP request", Default: false})
	hotReloadWWW := parser.Flag("", "hot", &argparse.Options{Help: "Serve the web UI from server/www on disk (for UI development)", Default: false})
	noDownload := parser.Flag("", "nodownload", &argparse.Options{Help: "Never download models", Default: false})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	logger, err := logs.NewLog()
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}

	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/var/lib"
	}
	if *configFile == nominalDefaultDB {
		*configFile = filepath.Join(home, "livelabel", "config.sqlite")
	}
	if *modelDir == nominalDefaultModels {
		*modelDir = filepath.Join(home, "livelabel", "models")
	}
	if *recordingDir == nominalDefaultRecordings {
		*recordingDir = filepath.Join(home, "livelabel", "recordings")
	}
	if *noDownload {
		nnload.ModelServer = ""
	}

	configDB, err := configdb.NewConfigDB(logger, *configFile)
	if err != nil {
		logger.Errorf("Failed to open config database: %v", err)
		os.Exit(1)
	}

	cam, err := camera.Open(logger, *device)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}

	flags := 0
	if *logRequests {
		flags |= server.ServerFlagLogRequests
	}
	if *hotReloadWWW {
		flags |= server.ServerFlagHotReloadWWW
	}
	srv, err := server.NewServer(logger, configDB, cam, *recordingDir, flags)
	if err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
	srv.ListenForKillSignals()

	// Loading (and possibly downloading) the model can take a while, and we want the
	// camera and the HTTP API to be available in the meantime.
	go func() {
		model, err := nnload.LoadModel(logger, *modelDir, *nnModelName)
		if err != nil {
			srv.ModelFailed(err)
			return
		}
		if err := srv.AttachModel(model); err != nil {
			srv.ModelFailed(err)
		}
	}()

	// Tell systemd that we're alive.
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := srv.ListenHTTP(*port); err != nil {
		logger.Errorf("ListenHTTP returned: %v", err)
		srv.Shutdown()
	}
	err = <-srv.ShutdownComplete

	cam.Close()
	configDB.Close()
	logger.Close()
	if err != nil {
		os.Exit(1)
	}
}
