package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/eldtechnologies/deskchat/clients/go/deskchat"
)

const requestTimeout = 30 * time.Second

var (
	loginPassword string

	registerPassword string
	registerName     string
	registerEmail    string
	registerRole     string

	chatsArchived bool
	readLimit     int
	sendType      string
)

var loginCmd = &cobra.Command{
	Use:   "login <username>",
	Short: "Sign in and save the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := loginPassword
		if password == "" {
			password = os.Getenv("DESKCHAT_PASSWORD")
		}
		if password == "" {
			return errors.New("password required (--password or DESKCHAT_PASSWORD)")
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		client := deskchat.NewClient(baseURL)
		auth, err := client.Login(ctx, args[0], password)
		if err != nil {
			return err
		}
		if err := client.SaveSession(); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Printf("%s signed in as %s (%s)\n", successStyle.Render("✓"), nameStyle.Render(displayName(&auth.User)), auth.User.Role)
		return nil
	},
}

var registerCmd = &cobra.Command{
	Use:   "register <username>",
	Short: "Create an account and save the session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, err := deskchat.ParseRole(registerRole)
		if err != nil {
			return err
		}
		name := registerName
		if name == "" {
			name = args[0]
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		client := deskchat.NewClient(baseURL)
		auth, err := client.Register(ctx, deskchat.RegisterRequest{
			Username: args[0],
			Email:    registerEmail,
			Password: registerPassword,
			Name:     name,
			Role:     role,
		})
		if err != nil {
			return err
		}
		if err := client.SaveSession(); err != nil {
			return fmt.Errorf("save session: %w", err)
		}
		fmt.Printf("%s registered %s %s\n", successStyle.Render("✓"), nameStyle.Render(auth.User.Username), idStyle.Render(auth.User.ID))
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "End the session",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		if err := client.Logout(ctx); err != nil {
			fmt.Println(warningStyle.Render("server logout failed: " + err.Error()))
		}
		if err := client.ClearSession(); err != nil {
			return err
		}
		fmt.Println(successStyle.Render("✓ signed out"))
		return nil
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Show the signed-in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		me, err := client.Me(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("%s %s @%s %s\n", onlineMark(me), nameStyle.Render(displayName(me)), me.Username, idStyle.Render(me.ID))
		fmt.Printf("  role: %s\n", me.Role)
		return nil
	},
}

var chatsCmd = &cobra.Command{
	Use:   "chats",
	Short: "List chats, most recent activity first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		engine, err := startEngine(ctx, client)
		if err != nil {
			return err
		}
		defer engine.Stop()

		state := engine.State()
		chats, title := state.Active, "Active chats"
		if chatsArchived {
			chats, title = state.Archived, "Archived chats"
		}
		printChats(title, chats, state.Identity)
		return nil
	},
}

var availableCmd = &cobra.Command{
	Use:   "available",
	Short: "List online counterparts you have no active chat with",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		var users []deskchat.User
		title := "Available agents"
		if client.User.Role.IsCustomer() {
			users, err = client.ListAvailableAgents(ctx)
		} else {
			title = "Available customers"
			users, err = client.ListAvailableCustomers(ctx)
		}
		if err != nil {
			return err
		}

		fmt.Println(headerStyle.Render(title))
		if len(users) == 0 {
			fmt.Println(dateStyle.Render("  nobody right now"))
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		for i := range users {
			u := &users[i]
			_, _ = fmt.Fprintf(w, "  %s\t%s\t@%s\t%s\n", onlineMark(u), nameStyle.Render(displayName(u)), u.Username, idStyle.Render(u.ID))
		}
		return w.Flush()
	},
}

var readCmd = &cobra.Command{
	Use:   "read <chat>",
	Short: "Show the latest messages of a chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		engine, err := startEngine(ctx, client)
		if err != nil {
			return err
		}
		defer engine.Stop()

		chat, err := findChat(engine.State(), args[0])
		if err != nil {
			return err
		}
		if readLimit == deskchat.DefaultMessageLimit {
			if err := engine.SelectChat(ctx, chat); err != nil {
				return err
			}
			printConversation(*chat, engine.State().Messages, client.User)
			return nil
		}

		messages, err := client.ListMessages(ctx, chat.ID, readLimit, 0)
		if err != nil {
			return err
		}
		printConversation(*chat, messages, client.User)
		return nil
	},
}

var sendCmd = &cobra.Command{
	Use:   "send <chat> <text>...",
	Short: "Post a message to a chat",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		typ := deskchat.MessageType(sendType)
		if !typ.Valid() {
			return fmt.Errorf("unknown message type %q", sendType)
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		engine, err := startEngine(ctx, client)
		if err != nil {
			return err
		}
		defer engine.Stop()

		chat, err := findChat(engine.State(), args[0])
		if err != nil {
			return err
		}
		if err := engine.SelectChat(ctx, chat); err != nil {
			return err
		}
		msg, err := engine.SendMessage(ctx, strings.Join(args[1:], " "), typ)
		if err != nil {
			return err
		}
		fmt.Printf("%s sent %s\n", successStyle.Render("✓"), idStyle.Render(msg.ID))
		return nil
	},
}

var startCmd = &cobra.Command{
	Use:   "start <user-id>",
	Short: "Open a chat with an agent (as a customer) or a customer (as an agent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := signedIn()
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		engine, err := startEngine(ctx, client)
		if err != nil {
			return err
		}
		defer engine.Stop()

		var chat *deskchat.Chat
		if client.User.Role.IsCustomer() {
			chat, err = engine.StartChatWithAgent(ctx, args[0])
		} else {
			chat, err = engine.StartChatWithCustomer(ctx, args[0])
		}
		if err != nil {
			return err
		}
		fmt.Printf("%s chat %s opened with %s\n", successStyle.Render("✓"), idStyle.Render(chat.ID), nameStyle.Render(displayName(counterpart(*chat, client.User))))
		return nil
	},
}

var archiveCmd = &cobra.Command{
	Use:   "archive <chat>",
	Short: "Move a chat to the archive",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeStatus(cmd.Context(), args[0], deskchat.StatusArchived)
	},
}

var unarchiveCmd = &cobra.Command{
	Use:   "unarchive <chat>",
	Short: "Restore an archived chat",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return changeStatus(cmd.Context(), args[0], deskchat.StatusActive)
	},
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check server health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), requestTimeout)
		defer cancel()

		health, err := deskchat.NewClient(baseURL).Health(ctx)
		if err != nil {
			return err
		}
		status := successStyle.Render(health.Status)
		if health.Status != "healthy" {
			status = warningStyle.Render(health.Status)
		}
		fmt.Printf("%s %s %s\n", headerStyle.Render("deskchat"), health.Version, status)
		for name, check := range health.Checks {
			fmt.Printf("  %-8s %v\n", name, check)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginPassword, "password", "p", "", "Password (env DESKCHAT_PASSWORD)")

	registerCmd.Flags().StringVarP(&registerPassword, "password", "p", "", "Password, 8 to 72 characters")
	registerCmd.Flags().StringVar(&registerName, "name", "", "Display name (defaults to the username)")
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "Email address")
	registerCmd.Flags().StringVar(&registerRole, "role", string(deskchat.RoleCustomer), "customer or agent")
	_ = registerCmd.MarkFlagRequired("password")
	_ = registerCmd.MarkFlagRequired("email")

	chatsCmd.Flags().BoolVar(&chatsArchived, "archived", false, "List archived chats instead")
	readCmd.Flags().IntVarP(&readLimit, "limit", "n", deskchat.DefaultMessageLimit, "Number of messages")
	sendCmd.Flags().StringVar(&sendType, "type", string(deskchat.TypeText), "text, image or file")

	rootCmd.AddCommand(loginCmd, registerCmd, logoutCmd, whoamiCmd,
		chatsCmd, availableCmd, readCmd, sendCmd, startCmd,
		archiveCmd, unarchiveCmd, watchCmd, healthCmd)
}

func changeStatus(parent context.Context, ref string, to deskchat.ChatStatus) error {
	client, err := signedIn()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(parent, requestTimeout)
	defer cancel()

	engine, err := startEngine(ctx, client)
	if err != nil {
		return err
	}
	defer engine.Stop()

	chat, err := findChat(engine.State(), ref)
	if err != nil {
		return err
	}
	if to == deskchat.StatusArchived {
		err = engine.ArchiveChat(ctx, chat.ID)
	} else {
		err = engine.UnarchiveChat(ctx, chat.ID)
	}
	if err != nil {
		return err
	}
	fmt.Printf("%s chat %s is now %s\n", successStyle.Render("✓"), idStyle.Render(shortID(chat.ID)), to)
	return nil
}

func printChats(title string, chats []deskchat.Chat, me *deskchat.User) {
	fmt.Println(headerStyle.Render(fmt.Sprintf("%s (%d)", title, len(chats))))
	if len(chats) == 0 {
		fmt.Println(dateStyle.Render("  none"))
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	for _, c := range chats {
		other := counterpart(c, me)
		last := ""
		if c.LastMessage != nil {
			last = preview(c.LastMessage.Content, 40)
		}
		_, _ = fmt.Fprintf(w, "  %s\t%s %s\t%s\t%s\n",
			idStyle.Render(shortID(c.ID)), onlineMark(other), nameStyle.Render(displayName(other)),
			last, dateStyle.Render(ago(c.ActivityAt())))
	}
	_ = w.Flush()
}

func printConversation(chat deskchat.Chat, messages []deskchat.Message, me *deskchat.User) {
	other := counterpart(chat, me)
	fmt.Printf("%s %s %s\n", headerStyle.Render("Chat with "+displayName(other)), idStyle.Render(chat.ID), dateStyle.Render(string(chat.Status)))
	if len(messages) == 0 {
		fmt.Println(dateStyle.Render("  no messages yet"))
		return
	}
	for _, m := range messages {
		printMessage(m, chat, me)
	}
}

func printMessage(m deskchat.Message, chat deskchat.Chat, me *deskchat.User) {
	sender := senderName(m, chat, me)
	body := m.Content
	if m.Type != deskchat.TypeText && m.Type != "" {
		body = fmt.Sprintf("[%s] %s", m.Type, body)
	}
	fmt.Printf("  %s %s %s\n", dateStyle.Render(m.Timestamp.Local().Format("15:04")), nameStyle.Render(sender+":"), body)
}

func senderName(m deskchat.Message, chat deskchat.Chat, me *deskchat.User) string {
	switch {
	case m.Sender != nil:
		return displayName(m.Sender)
	case me != nil && m.SenderID == me.ID:
		return "you"
	case chat.Customer != nil && m.SenderID == chat.Customer.ID:
		return displayName(chat.Customer)
	case chat.Agent != nil && m.SenderID == chat.Agent.ID:
		return displayName(chat.Agent)
	}
	return shortID(m.SenderID)
}
