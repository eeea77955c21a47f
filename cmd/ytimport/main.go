// ytimport downloads a clip of YouTube audio, drops it into the
// server's upload directory under an opaque storage name, and
// registers it through the /register-dataset endpoint. It is the
// out-of-band producer that bulk registration assumes.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/clipnote/clipnote/pkg/logger"
	"github.com/clipnote/clipnote/pkg/utils"
)

var (
	videoURL      string
	startTime     float64
	endTime       float64
	uploadDir     string
	serverURL     string
	apiKey        string
	username      string
	transcription string
	sampleRate    int
)

func init() {
	flag.StringVar(&videoURL, "url", "", "YouTube video URL (required)")
	flag.Float64Var(&startTime, "start", 0, "Clip start offset in seconds")
	flag.Float64Var(&endTime, "end", 0, "Clip end offset in seconds (0 = full length)")
	flag.StringVar(&uploadDir, "uploads", "uploads", "Server upload directory")
	flag.StringVar(&serverURL, "server", "http://localhost:8080", "ClipNote server base URL")
	flag.StringVar(&apiKey, "api-key", os.Getenv("CLIPNOTE_API_KEY"), "Project API key")
	flag.StringVar(&username, "username", "", "Annotator to assign the clip to (required)")
	flag.StringVar(&transcription, "transcription", "", "Reference transcription for the clip")
	flag.IntVar(&sampleRate, "rate", 44100, "Output sample rate")
}

type ytMetadata struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

func fetchMetadata(ctx context.Context, videoURL string) (*ytMetadata, error) {
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"-J",
		"--no-warnings",
		"--no-playlist",
		videoURL,
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("yt-dlp metadata extraction failed: %v\nstderr: %s", err, stderr.String())
	}

	var meta ytMetadata
	if err := json.Unmarshal(stdout.Bytes(), &meta); err != nil {
		return nil, fmt.Errorf("failed to parse yt-dlp JSON: %w", err)
	}
	if strings.TrimSpace(meta.ID) == "" {
		return nil, fmt.Errorf("missing video ID in yt-dlp output")
	}
	if strings.TrimSpace(meta.Title) == "" {
		meta.Title = meta.ID
	}
	return &meta, nil
}

func downloadAudio(ctx context.Context, videoURL, tempDir string) (string, error) {
	outTemplate := filepath.Join(tempDir, "source.%(ext)s")
	cmd := exec.CommandContext(ctx, "yt-dlp",
		"-x",
		"--audio-format", "wav",
		"--no-warnings",
		"--no-playlist",
		"-o", outTemplate,
		videoURL,
	)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("yt-dlp download failed: %v\nstderr: %s", err, stderr.String())
	}
	return filepath.Join(tempDir, "source.wav"), nil
}

// sliceClip cuts [start,end] out of the source and resamples it.
func sliceClip(ctx context.Context, src, dst string, start, end float64, rate int) error {
	args := []string{"-y", "-i", src}
	if start > 0 {
		args = append(args, "-ss", strconv.FormatFloat(start, 'f', 3, 64))
	}
	if end > 0 {
		args = append(args, "-to", strconv.FormatFloat(end, 'f', 3, 64))
	}
	args = append(args, "-ar", strconv.Itoa(rate), "-ac", "1", dst)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("ffmpeg slice failed: %v\nstderr: %s", err, stderr.String())
	}
	return nil
}

func register(serverURL, apiKey string, form url.Values) (int, string, error) {
	req, err := http.NewRequest(http.MethodPost, strings.TrimRight(serverURL, "/")+"/register-dataset",
		strings.NewReader(form.Encode()))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Authorization", apiKey)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	client := &http.Client{Timeout: 30 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var body bytes.Buffer
	if _, err := body.ReadFrom(resp.Body); err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, body.String(), nil
}

func main() {
	flag.Parse()
	log := logger.GetLogger()

	if videoURL == "" || username == "" || apiKey == "" {
		flag.Usage()
		log.Fatalf("-url, -username and -api-key are required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	meta, err := fetchMetadata(ctx, videoURL)
	if err != nil {
		log.Fatalf("Metadata fetch failed: %v", err)
	}
	log.Infof("Importing %q (%s)", meta.Title, meta.ID)

	tempDir, err := os.MkdirTemp("", "ytimport-*")
	if err != nil {
		log.Fatalf("Failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tempDir)

	srcPath, err := downloadAudio(ctx, videoURL, tempDir)
	if err != nil {
		log.Fatalf("Download failed: %v", err)
	}

	clipPath := filepath.Join(tempDir, "clip.wav")
	if err := sliceClip(ctx, srcPath, clipPath, startTime, endTime, sampleRate); err != nil {
		log.Fatalf("Slice failed: %v", err)
	}

	if err := utils.MakeDir(uploadDir); err != nil {
		log.Fatalf("Failed to create upload dir: %v", err)
	}
	id := uuid.New()
	storageName := hex.EncodeToString(id[:]) + ".wav"
	if err := utils.MoveFile(clipPath, filepath.Join(uploadDir, storageName)); err != nil {
		log.Fatalf("Failed to place clip in upload dir: %v", err)
	}

	originalName := utils.SanitizeFilename(meta.Title) + ".wav"
	form := url.Values{}
	form.Set("username", username)
	form.Add("audio_filenames", originalName)
	form.Add("uuid_filenames", storageName)
	form.Add("youtube_start_times", strconv.FormatFloat(startTime, 'f', -1, 64))
	form.Add("youtube_end_times", strconv.FormatFloat(endTime, 'f', -1, 64))
	form.Add("reference_transcriptions", transcription)

	status, body, err := register(serverURL, apiKey, form)
	if err != nil {
		log.Fatalf("Registration request failed: %v", err)
	}
	if status != http.StatusCreated {
		log.Fatalf("Registration rejected (%d): %s", status, body)
	}

	log.Infof("Registered %s as %s", originalName, storageName)
	log.Infof("Server response: %s", strings.TrimSpace(body))
}
