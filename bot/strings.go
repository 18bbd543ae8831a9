package bot

import (
	"fmt"
	"time"
)

// User-visible strings are Ukrainian; the bot lives in Ukrainian-speaking
// chats. They never leak internal error details.
const (
	msgGenerateFailed = "Ой, щось пішло не так. Спробуй ще раз трохи пізніше."
	msgAllKeysBusy    = "Мені зараз забагато пишуть, дай відпочити хвилинку."
	msgBanned         = "Тебе тут забанили, звертайся до адміна."
	msgForgotten      = "Все, забув про тебе. Починаємо з чистого аркуша."
	msgNothingToShow  = "Нічого не знайшов."
	msgNotAdmin       = "Ця команда тільки для адмінів."
	msgConfirmExpired = "Час на підтвердження вийшов, спробуй заново."
	msgDone           = "Готово."
)

func msgThrottled(retryAfter time.Duration) string {
	minutes := int(retryAfter.Minutes()) + 1
	return fmt.Sprintf("Повільніше! Ти вичерпав ліміт, повертайся через %d хв.", minutes)
}

func msgCooldown(retryAfter time.Duration) string {
	seconds := int(retryAfter.Seconds()) + 1
	return fmt.Sprintf("Зачекай ще %d с перед наступним разом.", seconds)
}

func msgConfirmForget(window time.Duration) string {
	return fmt.Sprintf("Точно видалити все, що я знаю про тебе? Надішли команду ще раз протягом %d с для підтвердження.",
		int(window.Seconds()))
}

func msgConfirmChatReset(window time.Duration) string {
	return fmt.Sprintf("Точно скинути пам'ять чату? Надішли команду ще раз протягом %d с для підтвердження.",
		int(window.Seconds()))
}
