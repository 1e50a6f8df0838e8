package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

func init() {
	en := language.English
	message.SetString(en, KeyApology, "I'm sorry, I couldn't process that request. Let me connect you with an admin.")
	message.SetString(en, KeySendFailed, "Failed to send message. Please try again.")
	message.SetString(en, KeyGeneric, "Something went wrong. Our support team has been notified.")
	message.SetString(en, KeySessionClosed, "This conversation has ended. Please start a new chat.")
	message.SetString(en, KeyInvalidInput, "Please check your input and try again.")
	message.SetString(en, KeySupportOnline, "Our support team is online now.")
	message.SetString(en, KeySupportOffline, "Our support team is currently offline. We will reply as soon as we are back.")
	message.SetString(en, KeyDeliveryExhausted, "We could not reach our support team. Please contact us directly: %s")
	message.SetString(en, KeyEmergencyRaised, "Your urgent request has been sent to our support team.")
	message.SetString(en, KeySessionTimedOut, "This conversation was closed after a period of inactivity.")

	my := language.Burmese
	message.SetString(my, KeyApology, "ဝမ်းနည်းပါတယ်။ ဒီတောင်းဆိုချက်ကို မလုပ်ဆောင်နိုင်ပါ။ ဝန်ထမ်းနှင့် ချိတ်ဆက်ပေးပါမယ်။")
	message.SetString(my, KeySendFailed, "မက်ဆေ့ခ်ျပို့ရန် မအောင်မြင်ပါ။ ထပ်မံကြိုးစားကြည့်ပါ။")
	message.SetString(my, KeyGeneric, "တစ်ခုခု မှားယွင်းနေပါသည်။ ကျွန်ုပ်တို့၏ အဖွဲ့ကို အကြောင်းကြားပြီးပါပြီ။")
	message.SetString(my, KeySessionClosed, "ဤစကားပြောဆိုမှု ပြီးဆုံးသွားပါပြီ။ စကားပြောအသစ် စတင်ပါ။")
	message.SetString(my, KeyInvalidInput, "ထည့်သွင်းချက်ကို စစ်ဆေးပြီး ထပ်မံကြိုးစားပါ။")
	message.SetString(my, KeySupportOnline, "ကျွန်ုပ်တို့၏ ဝန်ထမ်းများ ယခု အွန်လိုင်းရှိပါသည်။")
	message.SetString(my, KeySupportOffline, "ကျွန်ုပ်တို့၏ ဝန်ထမ်းများ ယခု အော့ဖ်လိုင်းဖြစ်နေပါသည်။ ပြန်လာသည်နှင့် ဖြေကြားပေးပါမည်။")
	message.SetString(my, KeyDeliveryExhausted, "ဝန်ထမ်းများထံ ဆက်သွယ်၍ မရပါ။ တိုက်ရိုက် ဆက်သွယ်ပါ: %s")
	message.SetString(my, KeyEmergencyRaised, "သင့်အရေးပေါ် တောင်းဆိုချက်ကို ဝန်ထမ်းများထံ ပို့ပြီးပါပြီ။")
	message.SetString(my, KeySessionTimedOut, "အချိန်ကြာမြင့်စွာ လှုပ်ရှားမှုမရှိသဖြင့် ဤစကားပြောဆိုမှုကို ပိတ်လိုက်ပါပြီ။")
}
