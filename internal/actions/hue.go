package actions

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"
)

// SetHueLightsName is the action name exposed to the turn engine
const SetHueLightsName = "setHueLights"

const setHueLightsSchema = `{
  "type": "object",
  "properties": {
    "room": {
      "type": "string",
      "minLength": 1,
      "description": "Which room, e.g. 'living', 'bedroom', 'kitchen'"
    },
    "on": {
      "type": "boolean",
      "description": "true to turn lights on, false to turn lights off"
    },
    "color": {
      "type": "string",
      "description": "Optional color name (e.g. 'red', 'blue', 'white'). Defaults to white"
    }
  },
  "required": ["room", "on"]
}`

// hueColors maps color names to Hue hue/saturation values
var hueColors = map[string][2]int{
	"white":  {0, 0},
	"red":    {0, 254},
	"orange": {6000, 254},
	"yellow": {12750, 254},
	"green":  {25500, 254},
	"blue":   {46920, 254},
	"purple": {50000, 254},
	"pink":   {56100, 200},
}

// HueConfig locates the Philips Hue bridge
type HueConfig struct {
	BridgeURL string
	Username  string
	Groups    map[string]int // room -> group id

	HTTPClient *http.Client
}

// HueLights implements the setHueLights action
type HueLights struct {
	cfg        HueConfig
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewHueLights creates the action backend. Without a bridge URL requests are only logged.
func NewHueLights(cfg HueConfig, logger zerolog.Logger) *HueLights {
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &HueLights{cfg: cfg, httpClient: client, logger: logger}
}

// Action returns the registry entry for setHueLights
func (h *HueLights) Action() Action {
	return Action{
		Name:        SetHueLightsName,
		Description: "Turn on/off or set color of a certain room's lights",
		Schema:      setHueLightsSchema,
		Handler:     h.Set,
	}
}

type hueGroupAction struct {
	On  bool `json:"on"`
	Hue *int `json:"hue,omitempty"`
	Sat *int `json:"sat,omitempty"`
}

// Set switches a room's lights. Arguments are already schema-validated.
func (h *HueLights) Set(ctx context.Context, args map[string]any) (string, error) {
	room, _ := args["room"].(string)
	on, _ := args["on"].(bool)
	color, _ := args["color"].(string)
	room = strings.ToLower(strings.TrimSpace(room))
	color = strings.ToLower(strings.TrimSpace(color))

	body := hueGroupAction{On: on}
	if on && color != "" {
		if hs, ok := hueColors[color]; ok {
			body.Hue, body.Sat = &hs[0], &hs[1]
		} else {
			h.logger.Warn().Str("color", color).Msg("Unknown light color, keeping current color")
			color = ""
		}
	}

	status := fmt.Sprintf("Turning %s lights %s.", room, onOff(on))
	if on && color != "" {
		status = fmt.Sprintf("Turning %s lights on (%s).", room, color)
	}

	if h.cfg.BridgeURL == "" {
		h.logger.Info().
			Str("room", room).
			Bool("on", on).
			Str("color", color).
			Msg("Hue bridge not configured, skipping light change")
		return status, nil
	}

	group, err := h.groupFor(room)
	if err != nil {
		return "", err
	}
	if err := h.putGroupAction(ctx, group, body); err != nil {
		return "", err
	}
	h.logger.Info().Str("room", room).Int("group", group).Bool("on", on).Msg("Hue lights updated")
	return status, nil
}

// groupFor resolves a room; with no mapping configured group 0 (all lights) is used
func (h *HueLights) groupFor(room string) (int, error) {
	if len(h.cfg.Groups) == 0 {
		return 0, nil
	}
	group, ok := h.cfg.Groups[room]
	if !ok {
		return 0, fmt.Errorf("no hue group configured for room %q", room)
	}
	return group, nil
}

func (h *HueLights) putGroupAction(ctx context.Context, group int, body hueGroupAction) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal hue request: %w", err)
	}
	url := fmt.Sprintf("%s/api/%s/groups/%d/action", strings.TrimRight(h.cfg.BridgeURL, "/"), h.cfg.Username, group)

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create hue request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("hue bridge request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("hue bridge returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	// The bridge answers 200 with per-attribute results, errors included
	var results []struct {
		Error *struct {
			Description string `json:"description"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBody, &results); err == nil {
		for _, r := range results {
			if r.Error != nil {
				return errors.New("hue bridge error: " + r.Error.Description)
			}
		}
	}
	return nil
}

func onOff(on bool) string {
	if on {
		return "on"
	}
	return "off"
}
