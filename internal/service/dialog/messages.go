package dialog

import "fmt"

// Messages holds every user-facing text the dialog can produce.
type Messages struct {
	AskFeedback     string
	AskPhotoChoice  string
	AskPhotos       string
	PhotoAccepted   string // formatted with the running attachment count
	PhotosDone      string
	AskVisitDetails string
	AskContactInfo  string
	Thanks          string
	Cancelled       string
	NoSession       string
	GenericFailure  string
	YesToken        string
	NoToken         string
	DonePhrase      string
}

// DefaultMessages returns the production Russian wording.
func DefaultMessages() Messages {
	return Messages{
		AskFeedback: "Пожалуйста, напишите ваш отзыв ниже. \n" +
			"Все обращения рассматриваются непосредственно руководством.",
		AskPhotoChoice: "Хотите прикрепить фото к отзыву?",
		AskPhotos: "Пожалуйста, отправьте фото. Когда закончите, нажмите " +
			"'Завершить отправку фото' или отправьте команду /done.",
		PhotoAccepted: "Фото успешно прикреплено (%d шт.). " +
			"Отправьте еще фото или нажмите 'Завершить отправку фото'.",
		PhotosDone: "Фото успешно прикреплены. \n\n",
		AskVisitDetails: "Укажите дату, время посещения и название зала " +
			"(например, '15 мая 2025, 14:00-17:00, Баня Купеческая'). " +
			"\nЕсли не хотите указывать, отправьте '-'",
		AskContactInfo: "Пожалуйста, оставьте ваше имя и номер телефона для обратной связи " +
			"(например, 'Иван, +79991234567'). \nЕсли не хотите оставлять, отправьте '-'",
		Thanks: "Спасибо за ваш отзыв! Мы обязательно его рассмотрим и свяжемся с вами. \n\n" +
			"Для повторного отзыва нажмите /start",
		Cancelled:      "Диалог отменён.",
		NoSession:      "Чтобы оставить отзыв, нажмите /start",
		GenericFailure: "Произошла ошибка при отправке отзыва. \nПожалуйста, попробуйте позже.",
		YesToken:       "Да",
		NoToken:        "Нет",
		DonePhrase:     "Завершить отправку фото",
	}
}

func (m Messages) photoAccepted(count int) string {
	return fmt.Sprintf(m.PhotoAccepted, count)
}
