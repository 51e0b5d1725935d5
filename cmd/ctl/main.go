// Package main provides the control CLI entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/alecthomas/kingpin/v2"
	"github.com/joho/godotenv"

	apiconnect "github.com/osa030/callrelay/internal/api/connect"
	"github.com/osa030/callrelay/internal/app/broadcast"
	"github.com/osa030/callrelay/internal/app/callkeep"
)

var (
	app    = kingpin.New("callrelay-ctl", "callrelay control client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Control token (or set CALLRELAY_TOKEN env)").Envar("CALLRELAY_TOKEN").String()

	// status command
	statusCmd = app.Command("status", "Show relay status")

	// dispatch command
	dispatchCmd    = app.Command("dispatch", "Send a service action")
	dispatchAction = dispatchCmd.Arg("action", "Service action (AnswerCall, HungUpCall, Muting, ...)").Required().String()
	dispatchCallID = dispatchCmd.Arg("call-id", "Call ID (omit for TearDown)").String()
	dispatchOn     = dispatchCmd.Flag("on", "Toggle value for Muting/Holding/Speaker").Bool()
	dispatchDTMF   = dispatchCmd.Flag("dtmf", "Tone for SendDTMF").String()

	// notify command
	notifyCmd    = app.Command("notify", "Tap a notification button")
	notifyAction = notifyCmd.Arg("action", "answer or hangup").Required().Enum("answer", "hangup")
	notifyCallID = notifyCmd.Arg("call-id", "Call ID").Required().String()

	// sms command
	smsCmd      = app.Command("sms", "Deliver text messages")
	smsMessages = smsCmd.Arg("message", "Message body").Required().Strings()

	// signaling command
	signalingCmd    = app.Command("signaling", "Set the signaling status")
	signalingStatus = signalingCmd.Arg("status", "DISCONNECT, CONNECTING, CONNECT, DISCONNECTING or FAILURE").Required().String()

	// activity command
	activityCmd   = app.Command("activity", "Set the activity phase")
	activityPhase = activityCmd.Arg("phase", "CREATE, START, RESUME, PAUSE, STOP, DESTROY or ANY").Required().String()

	// call command
	callCmd      = app.Command("call", "Start a call")
	callID       = callCmd.Arg("call-id", "Call ID").Required().String()
	callHandle   = callCmd.Arg("handle", "Caller address").Required().String()
	callName     = callCmd.Arg("name", "Display name").String()
	callVideo    = callCmd.Flag("video", "Video call").Bool()
	callOutgoing = callCmd.Flag("outgoing", "Start an outgoing call").Bool()

	// service command
	serviceCmd        = app.Command("service", "Register or unregister an active service")
	serviceID         = serviceCmd.Arg("service-id", "Service ID").Required().String()
	serviceUnregister = serviceCmd.Flag("unregister", "Unregister instead of register").Bool()

	// teardown command
	teardownCmd = app.Command("teardown", "End every call")

	// subscribe command
	subscribeCmd     = app.Command("subscribe", "Stream broadcast events")
	subscribeReports = subscribeCmd.Arg("report", "Report names (default: all)").Strings()
)

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	// Parse command
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	// Check token
	if *token == "" {
		fmt.Println("Error: control token is required (use --token or CALLRELAY_TOKEN env)")
		os.Exit(1)
	}

	client := apiconnect.NewClient(http.DefaultClient, *server, *token)
	ctx := context.Background()

	var err error
	switch command {
	case statusCmd.FullCommand():
		err = showStatus(ctx, client)
	case dispatchCmd.FullCommand():
		err = dispatch(ctx, client)
	case notifyCmd.FullCommand():
		err = client.NotificationAction(ctx, *notifyAction, &apiconnect.CallMetadata{CallID: *notifyCallID})
		report(err, "Notification action sent")
	case smsCmd.FullCommand():
		var started int
		started, err = client.ReceiveSMS(ctx, *smsMessages...)
		if err == nil {
			fmt.Printf("Messages: %d, calls started: %d\n", len(*smsMessages), started)
		}
	case signalingCmd.FullCommand():
		err = client.SetSignalingStatus(ctx, *signalingStatus)
		report(err, "Signaling status set")
	case activityCmd.FullCommand():
		err = client.SetActivityPhase(ctx, *activityPhase)
		report(err, "Activity phase set")
	case callCmd.FullCommand():
		err = startCall(ctx, client)
	case serviceCmd.FullCommand():
		err = service(ctx, client)
	case teardownCmd.FullCommand():
		err = client.TearDown(ctx)
		report(err, "All calls ended")
	case subscribeCmd.FullCommand():
		err = subscribe(ctx, client)
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func report(err error, msg string) {
	if err == nil {
		fmt.Println(msg)
	}
}

func dispatch(ctx context.Context, client *apiconnect.Client) error {
	var meta *apiconnect.CallMetadata
	if *dispatchCallID != "" {
		meta = &apiconnect.CallMetadata{
			CallID:                 *dispatchCallID,
			HasMute:                *dispatchOn,
			HasHold:                *dispatchOn,
			HasSpeaker:             *dispatchOn,
			DualToneMultiFrequency: *dispatchDTMF,
		}
	}
	err := client.Dispatch(ctx, *dispatchAction, meta)
	report(err, "Action dispatched")
	return err
}

func startCall(ctx context.Context, client *apiconnect.Client) error {
	id, err := client.StartCall(ctx, apiconnect.CallMetadata{
		CallID:      *callID,
		Handle:      *callHandle,
		DisplayName: *callName,
		HasVideo:    *callVideo,
	}, *callOutgoing)
	if err != nil {
		return err
	}
	fmt.Printf("Call started: %s\n", id)
	return nil
}

func service(ctx context.Context, client *apiconnect.Client) error {
	var (
		changed bool
		err     error
	)
	if *serviceUnregister {
		changed, err = client.UnregisterActiveService(ctx, *serviceID)
	} else {
		changed, err = client.RegisterActiveService(ctx, *serviceID)
	}
	if err != nil {
		return err
	}
	if !changed {
		fmt.Println("No change")
		return nil
	}
	fmt.Println("Done")
	return nil
}

func showStatus(ctx context.Context, client *apiconnect.Client) error {
	st, err := client.GetStatus(ctx)
	if err != nil {
		return err
	}
	printStatus(st)
	return nil
}

func printStatus(st *callkeep.Status) {
	fmt.Println("=== Relay Status ===")
	fmt.Printf("Signaling: %s\n", orUnset(st.SignalingStatus))
	fmt.Printf("Activity: %s\n", orUnset(st.ActivityPhase))
	fmt.Printf("Selected Context: %s\n", st.Selected)
	fmt.Printf("Background Launch Pending: %v\n", st.LaunchPending)
	fmt.Printf("Proximity Sensor: %v\n", st.Proximity)
	fmt.Printf("Receivers: %d\n", st.Receivers)
	fmt.Printf("Active Services: %s\n", strings.Join(st.Services, ", "))
	fmt.Printf("Notifications: %s\n", strings.Join(st.Notifications, ", "))

	for _, c := range st.Contexts {
		fmt.Printf("\n[%s] running=%v sessions=%d\n", c.Label, c.Running, len(c.Sessions))
		for _, s := range c.Sessions {
			fmt.Printf("  %-36s %-8s %-8s %s %q muted=%v held=%v speaker=%v\n",
				s.CallID, s.Direction, s.State, s.Handle, s.DisplayName, s.Muted, s.Held, s.Speaker)
		}
	}
}

func orUnset(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}

func subscribe(ctx context.Context, client *apiconnect.Client) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Println("Subscribed to events. Press Ctrl+C to exit.")
	err := client.Subscribe(ctx, *subscribeReports, func(e broadcast.Event) error {
		printEvent(e)
		return nil
	})
	fmt.Println("\nUnsubscribed.")
	return err
}

func printEvent(e broadcast.Event) {
	keys := make([]string, 0, len(e.Payload))
	for k := range e.Payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, k := range keys {
		fields = append(fields, fmt.Sprintf("%s=%v", k, e.Payload[k]))
	}
	fmt.Printf("[%d] %s %s %s\n", e.SequenceNo, e.Time.Format("15:04:05.000"), e.Report, strings.Join(fields, " "))
}
