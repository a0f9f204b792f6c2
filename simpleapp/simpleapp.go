// Package simpleapp implements the non-KV request/response layer
// described by original_source/src/ps/SimpleApp.{h,cpp}: a thin wrapper
// around Customer that lets a node send a small head+body request to a
// node or group and be notified on reply, without any KV payload.
package simpleapp

import (
	"github.com/lni/dragonboat/v4/logger"

	"github.com/psgo/ps/internal/customer"
	"github.com/psgo/ps/internal/message"
	"github.com/psgo/ps/internal/postoffice"
)

// VanSender is the subset of van.Van a SimpleApp needs to put a
// message on the wire.
type VanSender interface {
	Send(msg message.Message) (int, error)
}

// SimpleData is Message translated into the shape a Handle actually
// needs, so callers never touch message.Message directly.
type SimpleData struct {
	Head       int32
	Sender     int
	CustomerID int
	RequestID  int
	Body       string
}

// Handle is invoked on every request or reply this app's Customer
// receives.
type Handle func(app *SimpleApp, received SimpleData)

// SimpleApp sends/receives head+body exchanges through one Customer.
// The default request handle echoes an empty-body Response; the
// default response handle does nothing.
type SimpleApp struct {
	cust *customer.Customer
	van  VanSender
	po   *postoffice.PostOffice
	log  logger.ILogger

	requestHandle  Handle
	responseHandle Handle
}

// New constructs a SimpleApp and registers its Customer with po.
func New(appID, customerID int, van VanSender, po *postoffice.PostOffice) *SimpleApp {
	a := &SimpleApp{
		van: van,
		po:  po,
		log: logger.GetLogger("simpleapp"),
	}
	a.requestHandle = func(app *SimpleApp, received SimpleData) { app.Response(received, "") }
	a.responseHandle = func(app *SimpleApp, received SimpleData) {}
	a.cust = customer.New(appID, customerID, a.onReceive)
	po.AddCustomer(a.cust)
	return a
}

func (a *SimpleApp) Customer() *customer.Customer { return a.cust }

// Request sends head/body to receiver, which may be a single node id
// or a group id; the returned request id fans out to however many
// concrete nodes that group currently resolves to.
func (a *SimpleApp) Request(head int32, body string, receiver int) int {
	ids := a.po.GetNodeIDs(receiver)
	ts := a.cust.NewRequest(len(ids))

	for _, id := range ids {
		msg := message.Message{Meta: message.Meta{
			Head:       head,
			Request:    true,
			SimpleApp:  true,
			AppID:      int32(a.cust.AppID()),
			CustomerID: int32(a.cust.CustomerID()),
			Timestamp:  int32(ts),
			Receiver:   int32(id),
		}}
		if body != "" {
			msg.Meta.Body = []byte(body)
		}
		if _, err := a.van.Send(msg); err != nil {
			a.log.Warningf("simpleapp: request to %d failed: %v", id, err)
		}
	}
	return ts
}

// Response replies to request with an optional body, echoing its head,
// routing back to request's customer_id (the requester's, not this
// app's own), and addressing request's sender directly.
func (a *SimpleApp) Response(request SimpleData, body string) {
	msg := message.Message{Meta: message.Meta{
		Head:       request.Head,
		Request:    false,
		SimpleApp:  true,
		AppID:      int32(a.cust.AppID()),
		CustomerID: int32(request.CustomerID),
		Timestamp:  int32(request.RequestID),
		Receiver:   int32(request.Sender),
	}}
	if body != "" {
		msg.Meta.Body = []byte(body)
	}
	if _, err := a.van.Send(msg); err != nil {
		a.log.Warningf("simpleapp: response to %d failed: %v", request.Sender, err)
	}
}

// Wait blocks until requestID has a reply from every node it fanned
// out to.
func (a *SimpleApp) Wait(requestID int) { a.cust.WaitRequest(requestID) }

// SetRequestHandle overrides the handler invoked for inbound requests.
func (a *SimpleApp) SetRequestHandle(h Handle) { a.requestHandle = h }

// SetResponseHandle overrides the handler invoked for inbound replies.
func (a *SimpleApp) SetResponseHandle(h Handle) { a.responseHandle = h }

func (a *SimpleApp) onReceive(msg message.Message) {
	received := SimpleData{
		Head:       msg.Meta.Head,
		Sender:     int(msg.Meta.Sender),
		CustomerID: int(msg.Meta.CustomerID),
		RequestID:  int(msg.Meta.Timestamp),
		Body:       string(msg.Meta.Body),
	}
	if msg.Meta.Request {
		a.requestHandle(a, received)
	} else {
		a.responseHandle(a, received)
	}
}
