package calapi

import (
	"time"
)

// Status values reported by the remote service for an event.
const (
	StatusConfirmed = "confirmed"
	StatusCancelled = "cancelled"
)

// entryRefProperty is the private extended property carrying the local entry
// id on events authored by this system. The pull side uses it to recognize
// round-tripped events.
const entryRefProperty = "journalEntryId"

// EventTime is the start or end of an event.
type EventTime struct {
	DateTime time.Time `json:"dateTime"`
}

// ExtendedProperties carries opaque key/value metadata on an event.
type ExtendedProperties struct {
	Private map[string]string `json:"private,omitempty"`
}

// Event is a calendar event as sent and received over the wire.
type Event struct {
	ID                 string              `json:"id,omitempty"`
	Summary            string              `json:"summary,omitempty"`
	Description        string              `json:"description,omitempty"`
	Status             string              `json:"status,omitempty"`
	Start              *EventTime          `json:"start,omitempty"`
	End                *EventTime          `json:"end,omitempty"`
	Updated            time.Time           `json:"updated,omitempty"`
	ExtendedProperties *ExtendedProperties `json:"extendedProperties,omitempty"`
}

// EntryRef returns the local entry id carried in the event's extended
// properties, or empty if the event was not authored by this system.
func (e *Event) EntryRef() string {
	if e.ExtendedProperties == nil {
		return ""
	}
	return e.ExtendedProperties.Private[entryRefProperty]
}

// SetEntryRef stamps the local entry id onto the event's extended properties.
func (e *Event) SetEntryRef(entryID string) {
	if e.ExtendedProperties == nil {
		e.ExtendedProperties = &ExtendedProperties{}
	}
	if e.ExtendedProperties.Private == nil {
		e.ExtendedProperties.Private = make(map[string]string)
	}
	e.ExtendedProperties.Private[entryRefProperty] = entryID
}

// EventsPage is one page of an events.list response.
type EventsPage struct {
	Items         []*Event `json:"items"`
	NextPageToken string   `json:"nextPageToken,omitempty"`
	NextSyncToken string   `json:"nextSyncToken,omitempty"`
}

// ListEventsRequest holds the optional parameters of events.list. A request
// carries either a SyncToken (incremental) or a TimeMin/TimeMax window
// (full), never both.
type ListEventsRequest struct {
	CalendarID string
	SyncToken  string
	PageToken  string
	TimeMin    time.Time
	TimeMax    time.Time
}

// CalendarListEntry is one calendar in a calendarList.list response.
type CalendarListEntry struct {
	ID      string `json:"id"`
	Summary string `json:"summary"`
	Primary bool   `json:"primary,omitempty"`
}

// CalendarListPage is one page of a calendarList.list response.
type CalendarListPage struct {
	Items         []*CalendarListEntry `json:"items"`
	NextPageToken string               `json:"nextPageToken,omitempty"`
}
