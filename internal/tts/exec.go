package tts

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"sync"

	"github.com/mattn/go-shellwords"
)

// execSynth drives a local TTS engine through a wrapper command. The request
// is written as JSON on stdin; the command answers with newline-delimited
// {"pcm_base64": "...", "final": bool} objects.
type execSynth struct {
	cmd        []string
	voicesCmd  []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execResponse struct {
	PCMBase64 string `json:"pcm_base64"`
	Final     bool   `json:"final"`
}

// NewExecSynth parses command and voicesCommand. voicesCommand prints one
// voice per line as "id<TAB>name" or just "name".
func NewExecSynth(command, voicesCommand string, sampleRate, channels int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse tts command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("tts command empty")
	}
	var voicesArgs []string
	if strings.TrimSpace(voicesCommand) != "" {
		voicesArgs, err = shellwords.NewParser().Parse(voicesCommand)
		if err != nil {
			return nil, fmt.Errorf("parse tts voices command: %w", err)
		}
	}
	return &execSynth{cmd: args, voicesCmd: voicesArgs, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execSynth) Voices(ctx context.Context) ([]Voice, error) {
	if len(e.voicesCmd) == 0 {
		return nil, fmt.Errorf("tts voices_command not configured")
	}
	cmd := exec.CommandContext(ctx, e.voicesCmd[0], e.voicesCmd[1:]...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("tts voices command failed: %w: %s", err, stderr.String())
	}
	return parseVoiceList(stdout.String()), nil
}

func parseVoiceList(out string) []Voice {
	var voices []Voice
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		id, name, found := strings.Cut(line, "\t")
		if !found {
			voices = append(voices, Voice{ID: line, Name: line})
			continue
		}
		id, name = strings.TrimSpace(id), strings.TrimSpace(name)
		if name == "" {
			name = id
		}
		voices = append(voices, Voice{ID: id, Name: name})
	}
	return voices
}

func (e *execSynth) Synthesize(ctx context.Context, req SynthRequest) (<-chan SynthChunk, <-chan error) {
	e.mu.Lock()
	schunks := make(chan SynthChunk)
	errs := make(chan error, 1)
	go func() {
		defer close(schunks)
		defer close(errs)
		defer e.mu.Unlock()

		data, err := json.Marshal(execRequest{
			Text:       req.Text,
			Voice:      req.Voice,
			SampleRate: e.sampleRate,
			Channels:   e.channels,
		})
		if err != nil {
			errs <- err
			return
		}

		cmd := exec.CommandContext(ctx, e.cmd[0], e.cmd[1:]...)
		stdin, err := cmd.StdinPipe()
		if err != nil {
			errs <- err
			return
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			errs <- err
			return
		}
		if err := cmd.Start(); err != nil {
			errs <- err
			return
		}

		if _, err := stdin.Write(data); err != nil {
			errs <- err
			_ = cmd.Wait()
			return
		}
		stdin.Close()

		scanner := bufio.NewScanner(stdout)
		scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
		sequence := 0
		for scanner.Scan() {
			line := scanner.Bytes()
			if len(line) == 0 {
				continue
			}
			var resp execResponse
			if err := json.Unmarshal(line, &resp); err != nil {
				errs <- err
				_ = cmd.Wait()
				return
			}
			pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
			if err != nil {
				errs <- err
				_ = cmd.Wait()
				return
			}
			select {
			case schunks <- SynthChunk{
				SessionID:  req.SessionID,
				Sequence:   sequence,
				SampleRate: e.sampleRate,
				Channels:   e.channels,
				PCM:        pcm,
				Final:      resp.Final,
			}:
			case <-ctx.Done():
				errs <- ctx.Err()
				_ = cmd.Wait()
				return
			}
			sequence++
		}
		if err := cmd.Wait(); err != nil {
			errs <- err
			return
		}
		if scanErr := scanner.Err(); scanErr != nil {
			errs <- scanErr
		}
	}()
	return schunks, errs
}
