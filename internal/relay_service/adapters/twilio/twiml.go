package twilio

import (
	"encoding/xml"
	"fmt"
)

// TwiML is the declarative response vocabulary the provider executes on our
// behalf: an empty acknowledgment, a spoken rejection, or a dial instruction
// bridging the caller to the user's real number.

type twimlResponse struct {
	XMLName xml.Name   `xml:"Response"`
	Say     string     `xml:"Say,omitempty"`
	Dial    *twimlDial `xml:"Dial,omitempty"`
}

type twimlDial struct {
	CallerID string `xml:"callerId,attr,omitempty"`
	Number   string `xml:",chardata"`
}

func render(resp twimlResponse) string {
	out, err := xml.Marshal(resp)
	if err != nil {
		// The structures above cannot fail to marshal; keep the signature
		// simple for handlers.
		panic(fmt.Sprintf("marshaling twiml: %v", err))
	}
	return xml.Header + string(out)
}

// EmptyResponse acknowledges an SMS webhook with no instruction.
func EmptyResponse() string {
	return render(twimlResponse{})
}

// Reject speaks text to the caller and hangs up.
func Reject(say string) string {
	return render(twimlResponse{Say: say})
}

// Dial bridges the call to number, presenting callerID to the callee.
func Dial(callerID, number string) string {
	return render(twimlResponse{Dial: &twimlDial{CallerID: callerID, Number: number}})
}
