package main

import (
	"context"
	"fmt"
)

// SessionCmd groups session operations.
type SessionCmd struct {
	Create  SessionCreateCmd  `cmd:"" help:"Create a session."`
	List    SessionListCmd    `cmd:"" help:"List session ids."`
	Get     SessionGetCmd     `cmd:"" help:"Show a session's messages."`
	Delete  SessionDeleteCmd  `cmd:"" help:"Delete a session."`
	Msg     SessionMsgCmd     `cmd:"" help:"Append a message."`
	Used    SessionUsedCmd    `cmd:"" help:"Record contexts or a skill as used."`
	Tool    SessionToolCmd    `cmd:"" help:"Fill in a tool part's output."`
	Commit  SessionCommitCmd  `cmd:"" help:"Archive the session and extract memories."`
	Extract SessionExtractCmd `cmd:"" help:"Extract memories without archiving."`
}

type SessionCreateCmd struct {
	ID string `arg:"" optional:"" help:"Session id (generated when omitted)."`
}

func (c *SessionCreateCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res map[string]string
	body := map[string]any{"session_id": c.ID}
	if err := cl.Post(context.Background(), "/api/v1/sessions/", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Println(res["session_id"])
	return nil
}

type SessionListCmd struct{}

func (c *SessionListCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res struct {
		Sessions []string `json:"sessions"`
		Count    int      `json:"count"`
	}
	if err := cl.Get(context.Background(), "/api/v1/sessions/", nil, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	return cli.lines(res.Sessions)
}

type sessionMessage struct {
	ID    string `json:"id"`
	Role  string `json:"role"`
	Parts []struct {
		Type     string `json:"type"`
		Text     string `json:"text,omitempty"`
		URI      string `json:"uri,omitempty"`
		ToolName string `json:"tool_name,omitempty"`
	} `json:"parts"`
	CreatedAt int64 `json:"created_at"`
}

type SessionGetCmd struct {
	ID string `arg:"" help:"Session id."`
}

func (c *SessionGetCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res struct {
		SessionID string           `json:"session_id"`
		Messages  []sessionMessage `json:"messages"`
		Count     int              `json:"count"`
	}
	if err := cl.Get(context.Background(), "/api/v1/sessions/"+c.ID, nil, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	for _, m := range res.Messages {
		for _, p := range m.Parts {
			switch p.Type {
			case "text":
				fmt.Printf("[%s] %s\n", m.Role, p.Text)
			case "context_ref":
				fmt.Printf("[%s] ref %s\n", m.Role, p.URI)
			case "tool":
				fmt.Printf("[%s] tool %s\n", m.Role, p.ToolName)
			}
		}
	}
	return nil
}

type SessionDeleteCmd struct {
	ID string `arg:"" help:"Session id."`
}

func (c *SessionDeleteCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res map[string]string
	if err := cl.Delete(context.Background(), "/api/v1/sessions/"+c.ID, nil, nil, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

type SessionMsgCmd struct {
	ID      string `arg:"" help:"Session id."`
	Content string `arg:"" help:"Message text."`
	Role    string `default:"user" help:"Message role (user, assistant, system)."`
}

func (c *SessionMsgCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{"role": c.Role, "content": c.Content}
	var res sessionMessage
	if err := cl.Post(context.Background(), "/api/v1/sessions/"+c.ID+"/messages", body, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Println(res.ID)
	return nil
}

type SessionUsedCmd struct {
	ID    string   `arg:"" help:"Session id."`
	URIs  []string `arg:"" optional:"" help:"Context URIs that were used."`
	Skill string   `help:"Skill name that was used."`
}

func (c *SessionUsedCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{"uris": c.URIs, "skill": c.Skill}
	var res map[string]any
	if err := cl.Post(context.Background(), "/api/v1/sessions/"+c.ID+"/used", body, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

type SessionToolCmd struct {
	ID        string `arg:"" help:"Session id."`
	MessageID string `arg:"" help:"Message id holding the tool part."`
	ToolID    string `arg:"" help:"Tool call id."`
	Output    string `arg:"" help:"Tool output."`
	Status    string `default:"completed" help:"Tool status (completed, failed)."`
}

func (c *SessionToolCmd) Run(cli *CLI) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	body := map[string]any{
		"message_id": c.MessageID,
		"tool_id":    c.ToolID,
		"output":     c.Output,
		"status":     c.Status,
	}
	var res sessionMessage
	if err := cl.Post(context.Background(), "/api/v1/sessions/"+c.ID+"/tool", body, &res); err != nil {
		return err
	}
	return cli.emit(res)
}

type commitResult struct {
	Status            string `json:"status"`
	SessionID         string `json:"session_id"`
	Archived          bool   `json:"archived"`
	ArchiveURI        string `json:"archive_uri,omitempty"`
	MemoriesExtracted int    `json:"memories_extracted"`
}

type SessionCommitCmd struct {
	ID string `arg:"" help:"Session id."`
}

func (c *SessionCommitCmd) Run(cli *CLI) error {
	return runSessionFinish(cli, c.ID, "commit")
}

type SessionExtractCmd struct {
	ID string `arg:"" help:"Session id."`
}

func (c *SessionExtractCmd) Run(cli *CLI) error {
	return runSessionFinish(cli, c.ID, "extract")
}

func runSessionFinish(cli *CLI, id, op string) error {
	cl, err := cli.client()
	if err != nil {
		return err
	}
	var res commitResult
	if err := cl.Post(context.Background(), "/api/v1/sessions/"+id+"/"+op, nil, &res); err != nil {
		return err
	}
	if cli.JSON {
		return cli.emit(res)
	}
	fmt.Printf("%s: %d memories extracted", res.Status, res.MemoriesExtracted)
	if res.ArchiveURI != "" {
		fmt.Printf(", archived to %s", res.ArchiveURI)
	}
	fmt.Println()
	return nil
}
