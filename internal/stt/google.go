package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/loqalabs/loqa-parrot/internal/config"
)

// GoogleRecognizer streams audio to Cloud Speech-to-Text.
type GoogleRecognizer struct {
	client *speech.Client
	logger *slog.Logger
}

func NewGoogleRecognizer(ctx context.Context, cfg config.STTConfig, logger *slog.Logger) (*GoogleRecognizer, error) {
	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	if cfg.Endpoint != "" {
		opts = append(opts, option.WithEndpoint(cfg.Endpoint))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleRecognizer{
		client: client,
		logger: logger.With(slog.String("component", "stt-google")),
	}, nil
}

func (g *GoogleRecognizer) Close() error {
	return g.client.Close()
}

func (g *GoogleRecognizer) Open(ctx context.Context, cfg StreamConfig) (Stream, error) {
	stream, err := g.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, fmt.Errorf("open streaming recognize: %w", err)
	}

	if err := stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config: &speechpb.RecognitionConfig{
					Encoding:          encoding(cfg.Encoding),
					SampleRateHertz:   int32(cfg.SampleRate),
					AudioChannelCount: int32(cfg.Channels),
					LanguageCode:      cfg.Language,
					Model:             cfg.Model,
				},
				InterimResults: cfg.InterimResults,
			},
		},
	}); err != nil {
		_ = stream.CloseSend()
		return nil, fmt.Errorf("send streaming config: %w", mapError(err))
	}
	g.logger.Debug("streaming session opened", slog.String("language", cfg.Language))
	return &googleStream{stream: stream}, nil
}

type googleStream struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (s *googleStream) Send(chunk []byte) error {
	err := s.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: chunk,
		},
	})
	return mapError(err)
}

func (s *googleStream) CloseSend() error {
	return s.stream.CloseSend()
}

func (s *googleStream) Recv() (Response, error) {
	resp, err := s.stream.Recv()
	if err != nil {
		return Response{}, mapError(err)
	}
	if rpcErr := resp.GetError(); rpcErr != nil && codes.Code(rpcErr.GetCode()) != codes.OK {
		if isSessionLimit(codes.Code(rpcErr.GetCode())) {
			return Response{}, fmt.Errorf("%w: %s", ErrSessionExpired, rpcErr.GetMessage())
		}
		return Response{}, fmt.Errorf("recognition error %d: %s", rpcErr.GetCode(), rpcErr.GetMessage())
	}
	return convertResponse(resp), nil
}

func convertResponse(resp *speechpb.StreamingRecognizeResponse) Response {
	out := Response{Results: make([]Result, 0, len(resp.GetResults()))}
	for _, r := range resp.GetResults() {
		result := Result{IsFinal: r.GetIsFinal(), Stability: r.GetStability()}
		for _, alt := range r.GetAlternatives() {
			result.Alternatives = append(result.Alternatives, Alternative{
				Transcript: alt.GetTranscript(),
				Confidence: alt.GetConfidence(),
			})
		}
		out.Results = append(out.Results, result)
	}
	return out
}

func encoding(name string) speechpb.RecognitionConfig_AudioEncoding {
	if v, ok := speechpb.RecognitionConfig_AudioEncoding_value[name]; ok {
		return speechpb.RecognitionConfig_AudioEncoding(v)
	}
	return speechpb.RecognitionConfig_LINEAR16
}

func mapError(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	if st, ok := status.FromError(err); ok && isSessionLimit(st.Code()) {
		return fmt.Errorf("%w: %s", ErrSessionExpired, st.Message())
	}
	return err
}

func isSessionLimit(code codes.Code) bool {
	return code == codes.OutOfRange || code == codes.DeadlineExceeded
}
