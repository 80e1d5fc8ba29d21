// main package for tts-client, a command-line client that submits a text to
// the tts-service, waits for the audio and downloads it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/book-expert/audiobook-tts/internal/core"
	"github.com/book-expert/audiobook-tts/internal/tts/ttsutils"
	"github.com/book-expert/logger"
)

// Flag names.
const (
	flagServer     = "server"
	flagUser       = "user"
	flagText       = "text"
	flagFile       = "file"
	flagVoice      = "voice"
	flagFormat     = "format"
	flagSampleRate = "sample-rate"
	flagOutput     = "output"
	flagPoll       = "poll"
	flagTimeout    = "timeout"
	flagHealth     = "health"
)

// Flag descriptions.
const (
	flagServerDesc     = "Base URL of the tts-service"
	flagUserDesc       = "User id sent in the X-User-ID header"
	flagTextDesc       = "Text to convert to speech"
	flagFileDesc       = "UTF-8 text file to convert to speech"
	flagVoiceDesc      = "Voice (defaults to the service default)"
	flagFormatDesc     = "Output format: wav, mp3, ogg, flac, m4a or aac"
	flagSampleRateDesc = "Output sample rate in Hz (0 uses the service default)"
	flagOutputDesc     = "Output file path (defaults to <job id>.<format>)"
	flagPollDesc       = "Interval between status polls"
	flagTimeoutDesc    = "Maximum time to wait for the audio"
	flagHealthDesc     = "Check TTS service health and exit"
)

// Error messages.
const (
	errEitherTextOrFile   = "either --text or --file must be provided"
	errCannotSpecifyBoth  = "cannot specify both --text and --file"
	errUserRequired       = "--user must not be empty"
	errFmtReadInput       = "failed to read %s: %w"
	errFmtJobFailed       = "job %s failed (%s): %s"
	errFmtServiceNotReady = "TTS service is not healthy: %v\n"
)

// Log and output messages.
const (
	msgServiceHealthy = "TTS service is healthy"
	logFmtSubmitted   = "Submitted text %s as job %s"
	logFmtProgress    = "Job %s: %s"
	msgFmtDone        = "Generated %s (%s, %s)\n"
	logFileName       = "tts-client.log"
)

const (
	defaultServer = "http://127.0.0.1:8080"
	defaultFormat = "mp3"
	defaultPoll   = 2 * time.Second
	defaultWait   = 30 * time.Minute
)

var (
	errMissingInput = errors.New(errEitherTextOrFile)
	errBothInputs   = errors.New(errCannotSpecifyBoth)
	errNoUser       = errors.New(errUserRequired)
	errJobFailed    = errors.New("synthesis failed")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	server     string
	user       string
	text       string
	file       string
	voice      string
	format     string
	sampleRate int
	output     string
	poll       time.Duration
	timeout    time.Duration
	health     bool
}

func main() {
	err := run(os.Args[1:], os.Stdout)
	if err != nil {
		// A logger might not be initialized yet, so use the standard log package.
		log.Fatalf("Error: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	flags, err := parseFlags(args)
	if err != nil {
		return err
	}

	clientLog, err := logger.New(os.TempDir(), logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer clientLog.Close()

	client := newAPIClient(flags.server, flags.user)

	if flags.health {
		return handleHealthCheck(client, stdout)
	}

	validateErr := validateFlags(flags)
	if validateErr != nil {
		return validateErr
	}

	ctx, cancel := context.WithTimeout(context.Background(), flags.timeout)
	defer cancel()

	return synthesize(ctx, client, clientLog, flags, stdout)
}

// parseFlags defines and parses command-line flags, returning them in a struct.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	set := flag.NewFlagSet("tts-client", flag.ContinueOnError)
	set.StringVar(&flags.server, flagServer, defaultServer, flagServerDesc)
	set.StringVar(&flags.user, flagUser, os.Getenv("USER"), flagUserDesc)
	set.StringVar(&flags.text, flagText, "", flagTextDesc)
	set.StringVar(&flags.file, flagFile, "", flagFileDesc)
	set.StringVar(&flags.voice, flagVoice, "", flagVoiceDesc)
	set.StringVar(&flags.format, flagFormat, defaultFormat, flagFormatDesc)
	set.IntVar(&flags.sampleRate, flagSampleRate, 0, flagSampleRateDesc)
	set.StringVar(&flags.output, flagOutput, "", flagOutputDesc)
	set.DurationVar(&flags.poll, flagPoll, defaultPoll, flagPollDesc)
	set.DurationVar(&flags.timeout, flagTimeout, defaultWait, flagTimeoutDesc)
	set.BoolVar(&flags.health, flagHealth, false, flagHealthDesc)

	err := set.Parse(args)
	if err != nil {
		return appFlags{}, err
	}

	return flags, nil
}

// validateFlags checks required and conflicting arguments.
func validateFlags(flags appFlags) error {
	switch {
	case flags.text == "" && flags.file == "":
		return errMissingInput
	case flags.text != "" && flags.file != "":
		return errBothInputs
	case flags.user == "":
		return errNoUser
	default:
		return nil
	}
}

// handleHealthCheck performs a service health check and prints the result.
func handleHealthCheck(client *apiClient, stdout io.Writer) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := client.health(ctx)
	if err != nil {
		fmt.Fprintf(stdout, errFmtServiceNotReady, err)

		return err
	}

	fmt.Fprintln(stdout, msgServiceHealthy)

	return nil
}

func readInput(flags appFlags) (string, error) {
	if flags.text != "" {
		return flags.text, nil
	}

	data, err := os.ReadFile(flags.file)
	if err != nil {
		return "", fmt.Errorf(errFmtReadInput, flags.file, err)
	}

	return string(data), nil
}

// synthesize creates the text, submits it, waits and downloads the result.
func synthesize(ctx context.Context, client *apiClient, clientLog *logger.Logger, flags appFlags, stdout io.Writer) error {
	content, err := readInput(flags)
	if err != nil {
		return err
	}

	doc, err := client.createText(ctx, content)
	if err != nil {
		return err
	}

	job, err := client.submit(ctx, core.TTSRequest{
		TextID:     doc.ID,
		Voice:      flags.voice,
		Format:     flags.format,
		SampleRate: flags.sampleRate,
	})
	if err != nil {
		return err
	}

	clientLog.Info(logFmtSubmitted, doc.ID, job.ID)

	finished, err := waitForJob(ctx, client, clientLog, job.ID, flags.poll)
	if err != nil {
		return err
	}

	output := flags.output
	if output == "" {
		output = ttsutils.SanitizeFilename(finished.ID) + "." + finished.Format
	}

	ensureErr := ttsutils.EnsureDir(filepath.Dir(output))
	if ensureErr != nil {
		return ensureErr
	}

	size, err := client.download(ctx, finished.ID, output)
	if err != nil {
		return err
	}

	fmt.Fprintf(stdout, msgFmtDone, output, ttsutils.FormatDuration(finished.Duration), ttsutils.FormatFileSize(size))

	return nil
}

// waitForJob polls until the job is completed or failed.
func waitForJob(
	ctx context.Context,
	client *apiClient,
	clientLog *logger.Logger,
	jobID string,
	interval time.Duration,
) (*core.SynthesisJob, error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastStatus core.JobStatus

	for {
		job, err := client.job(ctx, jobID)
		if err != nil {
			return nil, err
		}

		if job.Status != lastStatus {
			clientLog.Info(logFmtProgress, jobID, job.Status)
			lastStatus = job.Status
		}

		switch job.Status {
		case core.JobCompleted:
			return job, nil
		case core.JobFailed:
			return nil, fmt.Errorf("%w: "+errFmtJobFailed, errJobFailed, jobID, job.ErrorCode, job.Error)
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-ticker.C:
		}
	}
}
