package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/slack-go/slack"
)

// SlackPoster is the part of *slack.Client the destination needs.
type SlackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

type Slack struct {
	client  SlackPoster
	channel string
}

func NewSlack(token, channel string, options ...slack.Option) *Slack {
	return &Slack{client: slack.New(token, options...), channel: channel}
}

func NewSlackWithClient(client SlackPoster, channel string) *Slack {
	return &Slack{client: client, channel: channel}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, msg Message) error {
	attachment := slack.Attachment{
		Color: levelColor(msg.Level),
		Fields: []slack.AttachmentField{
			{Title: "Link", Value: msg.LinkName, Short: true},
			{Title: "Origin", Value: msg.OriginSerial, Short: true},
			{Title: "Current Loss", Value: fmt.Sprintf("%.2f dB", msg.CurrentLoss), Short: true},
			{Title: "Reference", Value: fmt.Sprintf("%.2f dB", msg.Reference), Short: true},
		},
		Footer: "LinkEye " + string(msg.Detector),
		Ts:     json.Number(strconv.FormatInt(msg.FiredAt.Unix(), 10)),
	}

	options := []slack.MsgOption{
		slack.MsgOptionText(levelEmoji(msg.Level)+" "+msg.Title, false),
		slack.MsgOptionAttachments(attachment),
	}
	if blocks := actionBlocks(msg); len(blocks) > 0 {
		options = append(options, slack.MsgOptionBlocks(blocks...))
	}

	if _, _, err := s.client.PostMessageContext(ctx, s.channel, options...); err != nil {
		return fmt.Errorf("failed to post slack message: %w", err)
	}
	return nil
}

func actionBlocks(msg Message) []slack.Block {
	if len(msg.Actions) == 0 {
		return nil
	}
	text := slack.NewTextBlockObject(slack.MarkdownType, "*"+msg.Title+"*\n"+msg.Text, false, false)
	elements := make([]slack.BlockElement, 0, len(msg.Actions))
	for _, a := range msg.Actions {
		label := slack.NewTextBlockObject(slack.PlainTextType, a.Label, false, false)
		elements = append(elements, slack.NewButtonBlockElement(a.ID, a.Value, label))
	}
	return []slack.Block{
		slack.NewSectionBlock(text, nil, nil),
		slack.NewActionBlock("linkeye_"+msg.EventID, elements...),
	}
}

// AcceptedLevel extracts the acknowledgment from a button click, if the
// callback carries one.
func AcceptedLevel(cb slack.InteractionCallback) (serial string, loss float64, ok bool) {
	for _, action := range cb.ActionCallback.BlockActions {
		if action.ActionID != ActionAcceptLevel {
			continue
		}
		s, l, err := ParseAcceptLevelValue(action.Value)
		if err != nil {
			return "", 0, false
		}
		return s, l, true
	}
	return "", 0, false
}
