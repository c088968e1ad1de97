package models

// Interaction types (wire protocol)
const (
	InteractionTypePing               = 1
	InteractionTypeApplicationCommand = 2
	InteractionTypeMessageComponent   = 3
	InteractionTypeModalSubmit        = 5
)

// Interaction response types
const (
	ResponseTypePong            = 1
	ResponseTypeChannelMessage  = 4
	ResponseTypeDeferredMessage = 5
	ResponseTypeDeferredUpdate  = 6
	ResponseTypeUpdateMessage   = 7
	ResponseTypeModal           = 9
)

// Component types
const (
	ComponentTypeActionRow    = 1
	ComponentTypeButton       = 2
	ComponentTypeStringSelect = 3
	ComponentTypeTextInput    = 4
)

// Button styles
const (
	ButtonStylePrimary   = 1
	ButtonStyleSecondary = 2
	ButtonStyleSuccess   = 3
	ButtonStyleDanger    = 4
)

// Text input styles
const (
	TextInputStyleShort     = 1
	TextInputStyleParagraph = 2
)

// MessageFlagEphemeral marks a response visible to the invoker only
const MessageFlagEphemeral = 1 << 6

// Interaction is one incoming gateway interaction event
type Interaction struct {
	ID            string           `json:"id"`
	ApplicationID string           `json:"application_id"`
	Type          int              `json:"type"`
	Token         string           `json:"token"`
	GuildID       string           `json:"guild_id,omitempty"`
	ChannelID     string           `json:"channel_id,omitempty"`
	Member        *GuildMember     `json:"member,omitempty"`
	User          *ChatUser        `json:"user,omitempty"`
	Message       *ChatMessage     `json:"message,omitempty"`
	Data          *InteractionData `json:"data,omitempty"`
}

// UserID returns the invoking user's id regardless of guild/DM context
func (i *Interaction) UserID() string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}

// GuildMember wraps the guild-scoped view of a user
type GuildMember struct {
	User *ChatUser `json:"user,omitempty"`
}

// ChatUser identifies a platform user
type ChatUser struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
}

// ChatMessage is the message a component interaction was attached to
type ChatMessage struct {
	ID        string `json:"id"`
	ChannelID string `json:"channel_id,omitempty"`
}

// InteractionData carries the command, component, or modal payload
type InteractionData struct {
	Name          string          `json:"name,omitempty"`      // application command
	Options       []CommandOption `json:"options,omitempty"`   // command options / subcommands
	CustomID      string          `json:"custom_id,omitempty"` // component or modal id
	ComponentType int             `json:"component_type,omitempty"`
	Values        []string        `json:"values,omitempty"`     // select menu choices
	Components    []ActionRow     `json:"components,omitempty"` // modal submission rows
}

// CommandOption is one option (or subcommand) of an application command
type CommandOption struct {
	Name    string          `json:"name"`
	Type    int             `json:"type"`
	Value   any             `json:"value,omitempty"`
	Options []CommandOption `json:"options,omitempty"`
}

// StringValue returns the option value as a string when possible
func (o *CommandOption) StringValue() string {
	if s, ok := o.Value.(string); ok {
		return s
	}
	return ""
}

// BoolValue returns the option value as a bool when possible
func (o *CommandOption) BoolValue() bool {
	b, _ := o.Value.(bool)
	return b
}

// FloatValue returns the option value as a float64 when possible.
// Numeric options decode from JSON as float64.
func (o *CommandOption) FloatValue() float64 {
	f, _ := o.Value.(float64)
	return f
}

// Option finds a direct child option by name
func (o *CommandOption) Option(name string) *CommandOption {
	for idx := range o.Options {
		if o.Options[idx].Name == name {
			return &o.Options[idx]
		}
	}
	return nil
}

// ActionRow is one row of message or modal components
type ActionRow struct {
	Type       int         `json:"type"`
	Components []Component `json:"components"`
}

// Component is a button, select menu, or text input
type Component struct {
	Type        int            `json:"type"`
	CustomID    string         `json:"custom_id,omitempty"`
	Label       string         `json:"label,omitempty"`
	Style       int            `json:"style,omitempty"`
	Disabled    bool           `json:"disabled,omitempty"`
	Placeholder string         `json:"placeholder,omitempty"`
	MinValues   *int           `json:"min_values,omitempty"`
	MaxValues   *int           `json:"max_values,omitempty"`
	Options     []SelectOption `json:"options,omitempty"`
	Value       string         `json:"value,omitempty"` // text input: initial or submitted value
	Required    *bool          `json:"required,omitempty"`
	MinLength   *int           `json:"min_length,omitempty"`
	MaxLength   *int           `json:"max_length,omitempty"`
}

// SelectOption is one choice in a select menu
type SelectOption struct {
	Label       string `json:"label"`
	Value       string `json:"value"`
	Description string `json:"description,omitempty"`
	Default     bool   `json:"default,omitempty"`
}

// Embed is a rich message block
type Embed struct {
	Title       string       `json:"title,omitempty"`
	Description string       `json:"description,omitempty"`
	Color       int          `json:"color,omitempty"`
	Fields      []EmbedField `json:"fields,omitempty"`
	Footer      *EmbedFooter `json:"footer,omitempty"`
	Image       *EmbedImage  `json:"image,omitempty"`
}

// EmbedField is one labelled value inside an embed
type EmbedField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline,omitempty"`
}

// EmbedFooter is the small print under an embed
type EmbedFooter struct {
	Text string `json:"text"`
}

// EmbedImage attaches an image to an embed by URL or attachment ref
type EmbedImage struct {
	URL string `json:"url"`
}

// InteractionResponse is the reply sent back for an interaction
type InteractionResponse struct {
	Type int           `json:"type"`
	Data *ResponseData `json:"data,omitempty"`
}

// ResponseData is the body of an interaction response. CustomID and
// Title apply to modal responses only.
type ResponseData struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
	Flags      int         `json:"flags,omitempty"`
	CustomID   string      `json:"custom_id,omitempty"`
	Title      string      `json:"title,omitempty"`
}

// MessagePayload is an outgoing channel message
type MessagePayload struct {
	Content    string      `json:"content,omitempty"`
	Embeds     []Embed     `json:"embeds,omitempty"`
	Components []ActionRow `json:"components,omitempty"`
}

// MessageEdit is a webhook message PATCH. Fields always serialize so
// an empty slice clears what the message previously carried.
type MessageEdit struct {
	Content    string      `json:"content"`
	Embeds     []Embed     `json:"embeds"`
	Components []ActionRow `json:"components"`
}

// FileAttachment is one file uploaded with a message
type FileAttachment struct {
	Name string
	Data []byte
}

// ApplicationCommand describes a slash command for registration
type ApplicationCommand struct {
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`
}

// Application command option types
const (
	CommandOptionTypeSubCommand = 1
	CommandOptionTypeString     = 3
	CommandOptionTypeInteger    = 4
	CommandOptionTypeBoolean    = 5
)

// ApplicationCommandOption describes one option of a slash command
type ApplicationCommandOption struct {
	Type        int                        `json:"type"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Required    bool                       `json:"required,omitempty"`
	Options     []ApplicationCommandOption `json:"options,omitempty"`
}
