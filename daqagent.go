// The MIT License
//
// Copyright (c) 2020-2021 by the author(s)
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.
//
// Description:
//
// Implements communication with an external run-control agent via a
// zeromq-based connection. The capture and read runs can report their
// start, completion and statistics to the agent, which allows a DAQ system
// to sequence NVMe captures with the rest of a run without polling the
// hardware itself.

package plnvme

import (
	"encoding/json"
	"fmt"

	zmq "github.com/pebbe/zmq4"
)

// DaqAgent is a struct providing methods for notifying an external
// run-control agent.
type DaqAgent struct {
	Name     string // name of the agent
	endpoint string // zeromq endpoint the agent is listening on
	sock     *zmq.Socket
}

// agentMsg is the JSON message sent to the agent.
type agentMsg struct {
	EvtType string      `json:"evtType"`
	Args    interface{} `json:"args,omitempty"`
}

// agentResp is the acknowledgement received from the agent.
type agentResp struct {
	EvtType string `json:"evtType"`
	Args    struct {
		Reason string `json:"reason"`
	} `json:"args"`
}

// DaqAgentCreate creates a new DaqAgent struct for the given zeromq
// endpoint, e.g. "tcp://daq-host:5555".
func DaqAgentCreate(name, endpoint string) *DaqAgent {
	return &DaqAgent{
		Name:     name,
		endpoint: endpoint,
	}
}

// Connect establishes the connection with the agent.
func (agent *DaqAgent) Connect() error {
	sock, err := zmq.NewSocket(zmq.REQ)
	if err != nil {
		return fmt.Errorf("agent '%s': could not create socket: %w",
			agent.Name, err)
	}

	if err := sock.Connect(agent.endpoint); err != nil {
		sock.Close()
		return fmt.Errorf("agent '%s': could not connect: %w", agent.Name, err)
	}

	agent.sock = sock
	Log(LOG_DEBUG, "agent '%s': connected (%s)", agent.Name, agent.endpoint)
	return nil
}

// Disconnect closes the connection with the agent.
func (agent *DaqAgent) Disconnect() {
	if agent.sock != nil {
		agent.sock.Close()
		agent.sock = nil
		Log(LOG_DEBUG, "agent '%s': disconnected", agent.Name)
	}
}

// NotifyEvent sends an event to the agent and waits for its
// acknowledgement. A NACK from the agent is surfaced as an error carrying
// the agent's reason.
func (agent *DaqAgent) NotifyEvent(evtType string, args interface{}) error {
	if agent.sock == nil {
		return fmt.Errorf("agent '%s': not connected", agent.Name)
	}

	data, err := json.Marshal(agentMsg{EvtType: evtType, Args: args})
	if err != nil {
		return fmt.Errorf("agent '%s': could not encode message: %w",
			agent.Name, err)
	}

	if _, err := agent.sock.SendBytes(data, 0); err != nil {
		return fmt.Errorf("agent '%s': could not send message: %w",
			agent.Name, err)
	}

	resp, err := agent.sock.RecvBytes(0)
	if err != nil {
		return fmt.Errorf("agent '%s': no response: %w", agent.Name, err)
	}

	var respMsg agentResp
	if err := json.Unmarshal(resp, &respMsg); err != nil {
		return fmt.Errorf("agent '%s': bad response: %w", agent.Name, err)
	}
	if respMsg.EvtType == "nack" {
		return fmt.Errorf("agent '%s' rejected %s: %s", agent.Name, evtType,
			respMsg.Args.Reason)
	}

	Log(LOG_DEBUG, "agent '%s': %s acknowledged", agent.Name, evtType)
	return nil
}
