package reports

import (
	"fmt"
)

// NewReportGenerator creates a report generator based on the report type.
// journal may be nil, in which case the events report is unavailable.
func NewReportGenerator(reportType ReportType, state StateFunc, journal EventSource) (Generator, error) {
	switch reportType {
	case ReportTypeNodes, ReportTypePorts, ReportTypeLinks, ReportTypeEdges:
		return NewGraphReport(reportType, state), nil
	case ReportTypeEvents:
		if journal == nil {
			return nil, ErrJournalRequired
		}
		return NewEventReport(journal), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownType, reportType)
	}
}
