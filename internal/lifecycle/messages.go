package lifecycle

import (
	"fmt"
	"strings"

	"github.com/m3rciful/vatwatch/internal/vat"
)

const (
	msgTechnicalDifficulties = "🔴 We're having some technical difficulties processing your request, please try again later."
	msgNothingMonitored      = "You are not monitoring any VAT numbers."
	msgAllRemoved            = "You no longer monitor any VAT numbers."
)

func msgNowValid(id vat.Identity) string {
	return fmt.Sprintf("🟢 Congratulations, VAT number '%s' is now VALID!", id)
}

func msgExpired(id vat.Identity) string {
	return fmt.Sprintf("🔴 Your VAT number '%s' is no longer monitored because it's still invalid "+
		"and it's been too long since you registered it. Make sure you entered the right VAT number "+
		"or that the entity it belongs to actually applied for registration in VIES.", id)
}

func msgDemoted(id vat.Identity) string {
	return fmt.Sprintf("🔴 Sorry, something went wrong and we had to stop monitoring the VAT number '%s'. "+
		"We'll investigate what happened and try to resume monitoring. We'll notify you when that happens. "+
		"Sorry for the inconvenience.", id)
}

func msgAdminDemoted(id vat.Identity, errText string) string {
	return fmt.Sprintf("🔴🔴🔴 [ADMIN] There was an error while processing VAT number '%s' (chat %d): %s",
		id, id.OwnerID, errText)
}

func msgResumed(id vat.Identity) string {
	return fmt.Sprintf("We resumed monitoring your VAT number '%s'.", id)
}

func msgValid(id vat.Identity) string {
	return fmt.Sprintf("🟢 VAT number '%s' is valid.", id)
}

func msgMonitoring(id vat.Identity, days int) string {
	return fmt.Sprintf("🕓 VAT number '%s' is not registered in VIES yet. We will monitor it for %d days "+
		"and notify you if it becomes valid (or if the monitoring period expires).", id, days)
}

func msgLimitReached(max int) string {
	return fmt.Sprintf("🔴 Sorry, you reached the limit of maximum VAT numbers you can monitor (%d).", max)
}

func msgInvalidInput(id vat.Identity) string {
	return fmt.Sprintf("🔴 There was a problem validating your VAT number '%s'. Make sure it is in the correct format.", id)
}

func msgServiceUnavailable(id vat.Identity) string {
	return fmt.Sprintf("🟡 There was a problem validating your VAT number '%s' (looks like VIES validation "+
		"service is not available right now). We'll keep monitoring it for a while.", id)
}

func msgDeferred(id vat.Identity) string {
	return fmt.Sprintf("🟡 There was a problem validating your VAT number '%s'. We'll keep monitoring it for a while.", id)
}

func msgCheckFailed(id vat.Identity) string {
	return fmt.Sprintf("🔴 There was a problem validating your VAT number '%s'. Looks like VIES validation "+
		"service is not working as expected. Please try again later.", id)
}

func msgRemoved(id vat.Identity) string {
	return fmt.Sprintf("VAT number '%s' is no longer being monitored.", id)
}

// FormatOwned renders the list reply for one owner.
func FormatOwned(list []vat.PendingRequest) string {
	if len(list) == 0 {
		return msgNothingMonitored
	}
	names := make([]string, 0, len(list))
	for _, p := range list {
		names = append(names, "'"+p.String()+"'")
	}
	return "You monitor the following VAT numbers:\n\n" + strings.Join(names, ", ") + "."
}

// TechnicalDifficulties is the reply for unexpected failures at interactive boundaries.
func TechnicalDifficulties() string { return msgTechnicalDifficulties }
