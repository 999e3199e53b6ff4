package main

import (
	"bufio"
	"encoding/json"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/article-engine/internal/model"
)

// payloadFlags are the job fields shared by enqueue and generate.
type payloadFlags struct {
	topic    string
	angle    string
	audience string
	tone     string
	keywords []string
	length   int
}

func (p *payloadFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&p.topic, "topic", "", "article topic")
	cmd.Flags().StringVar(&p.angle, "angle", "", "editorial angle")
	cmd.Flags().StringVar(&p.audience, "audience", "", "intended readers")
	cmd.Flags().StringVar(&p.tone, "tone", "", "tone profile name")
	cmd.Flags().StringSliceVar(&p.keywords, "keywords", nil, "comma-separated keywords")
	cmd.Flags().IntVar(&p.length, "length", 0, "minimum length in characters (0 = policy default)")
}

func (p *payloadFlags) payload() (model.JobPayload, error) {
	topic := strings.TrimSpace(p.topic)
	if topic == "" {
		return model.JobPayload{}, eris.New("--topic is required")
	}
	if p.length < 0 {
		return model.JobPayload{}, eris.New("--length must be >= 0")
	}
	var keywords []string
	for _, k := range p.keywords {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	return model.JobPayload{
		Topic:          topic,
		Angle:          strings.TrimSpace(p.angle),
		Audience:       strings.TrimSpace(p.audience),
		Tone:           strings.TrimSpace(p.tone),
		Keywords:       keywords,
		RequiredLength: p.length,
	}, nil
}

// readPayloads parses one JSON payload per line. Blank lines are skipped.
func readPayloads(r io.Reader) ([]model.JobPayload, error) {
	var out []model.JobPayload
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var p model.JobPayload
		if err := json.Unmarshal([]byte(text), &p); err != nil {
			return nil, eris.Wrapf(err, "parse payload on line %d", line)
		}
		if strings.TrimSpace(p.Topic) == "" {
			return nil, eris.Errorf("payload on line %d has no topic", line)
		}
		out = append(out, p)
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrap(err, "read payloads")
	}
	return out, nil
}

func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "open %s", path)
	}
	return f, nil
}
