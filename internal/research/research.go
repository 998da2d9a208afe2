// Package research turns a business name and address into structured
// enrichment: contact details, hours, social links and design hints.
package research

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/platter/internal/model"
	"github.com/sells-group/platter/pkg/perplexity"
	"github.com/sells-group/platter/pkg/yutori"
)

// Client creates research tasks and waits for their parsed results.
type Client interface {
	CreateTask(ctx context.Context, name, address string) (string, error)
	// PollTask blocks until the task is terminal or its polling window ends.
	PollTask(ctx context.Context, taskID string) (*model.Enrichment, error)
}

// BuildQuery returns the research prompt for one business. It asks for the
// labeled lines Parse understands.
func BuildQuery(name, address string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Research the local business %q", strings.TrimSpace(name))
	if a := strings.TrimSpace(address); a != "" {
		fmt.Fprintf(&b, " located at %s", a)
	}
	b.WriteString(".\n")
	b.WriteString(`Write a two sentence description of what the business offers and what makes it distinctive.
Then answer on separate lines, leaving out any line you cannot verify:
Email: <public contact email>
Phone: <phone number>
Hours: <opening hours>
Social: <links to facebook, instagram, x, linkedin, yelp, youtube, tiktok, pinterest or threads pages>
Style: <two or three words describing the interior or brand aesthetic>
COLOR_PALETTE: theme=<dark|light>, bg=#hex, text=#hex, accent=#hex, accent2=#hex
3D_KEYWORD: <one physical object that represents the business, e.g. coffee cup, fishing rod>`)
	return b.String()
}

type yutoriClient struct {
	client yutori.Client
	opts   []yutori.PollOption
}

// NewYutori returns a Client backed by the Yutori research API.
func NewYutori(client yutori.Client, opts ...yutori.PollOption) Client {
	return &yutoriClient{client: client, opts: opts}
}

func (c *yutoriClient) CreateTask(ctx context.Context, name, address string) (string, error) {
	resp, err := c.client.CreateTask(ctx, yutori.CreateTaskRequest{
		Query:        BuildQuery(name, address),
		OutputFormat: "text",
	})
	if err != nil {
		return "", eris.Wrap(err, "research: create task")
	}
	return resp.TaskID, nil
}

func (c *yutoriClient) PollTask(ctx context.Context, taskID string) (*model.Enrichment, error) {
	task, err := yutori.PollTask(ctx, c.client, taskID, c.opts...)
	if err != nil {
		return nil, eris.Wrap(err, "research: poll task")
	}
	e := Parse(task.Result)
	return &e, nil
}

const researchSystemPrompt = "You are a meticulous local-business researcher. Only report facts you found in sources. Use plain text, no markdown."

type perplexityClient struct {
	client perplexity.Client

	mu      sync.Mutex
	pending map[string]string
}

// NewPerplexity returns a Client backed by Perplexity chat completions.
// CreateTask only records the prompt; the completion runs in PollTask.
func NewPerplexity(client perplexity.Client) Client {
	return &perplexityClient{client: client, pending: make(map[string]string)}
}

func (c *perplexityClient) CreateTask(_ context.Context, name, address string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", eris.New("research: business name is required")
	}
	id := uuid.NewString()
	c.mu.Lock()
	c.pending[id] = BuildQuery(name, address)
	c.mu.Unlock()
	return id, nil
}

func (c *perplexityClient) PollTask(ctx context.Context, taskID string) (*model.Enrichment, error) {
	c.mu.Lock()
	prompt, ok := c.pending[taskID]
	delete(c.pending, taskID)
	c.mu.Unlock()
	if !ok {
		return nil, eris.Errorf("research: unknown task %s", taskID)
	}

	resp, err := c.client.ChatCompletion(ctx, perplexity.ChatCompletionRequest{
		Messages: []perplexity.Message{
			{Role: "system", Content: researchSystemPrompt},
			{Role: "user", Content: prompt},
		},
	})
	if err != nil {
		return nil, eris.Wrap(err, "research: perplexity completion")
	}
	e := Parse(resp.Text())
	return &e, nil
}
